package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banachtech/volsurface/data"
)

//go:generate mockgen -destination mock/provider.go -package mockmd github.com/banachtech/volsurface/marketdata Provider

// ErrProvider marks failures of the upstream market-data source.
var ErrProvider = errors.New("market data provider")

// ProviderError wraps an upstream failure so the API can tell it from a
// calibration error.
type ProviderError struct {
	Source string
	Symbol string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: chain %s: %v", e.Source, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

// Chain is one snapshot of the listed options on an underlying.
type Chain struct {
	Symbol  string
	Spot    float64
	AsOf    time.Time
	Version string // identifies the snapshot for caching
	Calls   []data.OptionQuote
	Puts    []data.OptionQuote
}

// Provider supplies option chains.
type Provider interface {
	Chain(ctx context.Context, symbol string) (*Chain, error)
}

// Quotes returns the quotes of the requested type, calls first.
func (c *Chain) Quotes(option data.OptionType) []data.OptionQuote {
	switch option {
	case data.Call:
		return c.Calls
	case data.Put:
		return c.Puts
	}
	out := make([]data.OptionQuote, 0, len(c.Calls)+len(c.Puts))
	out = append(out, c.Calls...)
	return append(out, c.Puts...)
}

// Expiries lists the distinct expiries of the chain in ascending order.
func (c *Chain) Expiries() []time.Time {
	seen := map[int64]bool{}
	var out []time.Time
	for _, q := range c.Quotes(data.Both) {
		if key := q.Expiry.UnixNano(); !seen[key] {
			seen[key] = true
			out = append(out, q.Expiry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ForExpiry returns the quotes of one expiry.
func (c *Chain) ForExpiry(expiry time.Time, option data.OptionType) []data.OptionQuote {
	var out []data.OptionQuote
	for _, q := range c.Quotes(option) {
		if q.Expiry.Equal(expiry) {
			out = append(out, q)
		}
	}
	return out
}

// Tau is the year fraction from the snapshot time to expiry.
func (c *Chain) Tau(expiry time.Time) float64 {
	return YearFraction(c.AsOf, expiry)
}

// NearestExpiry picks the listed expiry whose tau is closest to tau.
func (c *Chain) NearestExpiry(tau float64) (time.Time, bool) {
	var best time.Time
	found := false
	dist := math.Inf(1)
	for _, e := range c.Expiries() {
		if d := math.Abs(c.Tau(e) - tau); d < dist {
			best, dist, found = e, d, true
		}
	}
	return best, found
}

// YearFraction counts calendar time in years of 365 days.
func YearFraction(from, to time.Time) float64 {
	return to.Sub(from).Hours() / (24 * 365)
}
