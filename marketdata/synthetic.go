package marketdata

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banachtech/volsurface/data"
	"github.com/banachtech/volsurface/ssvi"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Synthetic generates option chains priced off a known SSVI surface, with
// multiplicative gaussian noise on total variance and a relative bid/ask
// spread. Chains are deterministic for a given seed.
type Synthetic struct {
	Surface  ssvi.SurfaceParameters
	Spot     float64
	Rate     float64
	Dividend float64
	Taus     []float64
	Strikes  []float64 // as multiples of the forward
	Noise    float64
	Spread   float64
	Seed     uint64
	AsOf     time.Time
}

// DefaultSynthetic is an equity-like skewed surface around spot 100.
func DefaultSynthetic() *Synthetic {
	return &Synthetic{
		Surface: ssvi.SurfaceParameters{A: 0.03, B: 0.02, C: 3, Rho: -0.6, Eta: 1.2},
		Spot:    100,
		Rate:    0.03,
		Taus:    []float64{1.0 / 12, 0.25, 0.5, 1, 2},
		Strikes: []float64{0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1, 1.05, 1.1, 1.15, 1.2, 1.25, 1.3},
		Noise:   0.002,
		Spread:  0.02,
		Seed:    1,
		AsOf:    time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC),
	}
}

func (s *Synthetic) Chain(ctx context.Context, symbol string) (*Chain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(s.Seed)}
	chain := &Chain{
		Symbol:  symbol,
		Spot:    s.Spot,
		AsOf:    s.AsOf,
		Version: fmt.Sprintf("synthetic-%d", s.Seed),
	}
	for _, tau := range s.Taus {
		expiry := s.AsOf.Add(time.Duration(tau * 365 * 24 * float64(time.Hour)))
		// tau as seen by the consumer, after the duration round trip
		tau = YearFraction(s.AsOf, expiry)
		fwd := s.Spot * math.Exp((s.Rate-s.Dividend)*tau)
		df := math.Exp(-s.Rate * tau)
		for _, m := range s.Strikes {
			strike := math.Round(fwd*m*100) / 100
			w := s.Surface.TotalVariance(math.Log(strike/fwd), tau) * (1 + s.Noise*noise.Rand())
			sigma := math.Sqrt(math.Max(w, 0) / tau)
			for _, option := range []data.OptionType{data.Call, data.Put} {
				price := data.BlackPrice(fwd, strike, tau, sigma, df, option)
				q := data.OptionQuote{
					Symbol:          symbol,
					Strike:          strike,
					Expiry:          expiry,
					Type:            option,
					Bid:             data.Float(price * (1 - s.Spread/2)),
					Ask:             data.Float(price * (1 + s.Spread/2)),
					Last:            data.Float(price),
					UnderlyingPrice: s.Spot,
				}
				if option == data.Call {
					chain.Calls = append(chain.Calls, q)
				} else {
					chain.Puts = append(chain.Puts, q)
				}
			}
		}
	}
	return chain, nil
}
