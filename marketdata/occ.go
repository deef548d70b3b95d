package marketdata

import (
	"fmt"
	"strconv"
	"time"

	"github.com/banachtech/volsurface/data"
)

// Contract is a decoded OCC option symbol, e.g. AAPL240315C00150000.
type Contract struct {
	Root   string
	Expiry time.Time
	Type   data.OptionType
	Strike float64
}

// listed options stop trading at 16:00 New York, taken as 20:00 UTC
const expiryHourUTC = 20

// ParseOCC decodes root, expiry, type and strike from an OCC symbol. The
// root has variable length, so the fixed-width fields are read from the end.
func ParseOCC(symbol string) (Contract, error) {
	n := len(symbol)
	if n < 16 {
		return Contract{}, fmt.Errorf("occ symbol %q too short", symbol)
	}
	strike, err := strconv.ParseUint(symbol[n-8:], 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("occ symbol %q: strike: %w", symbol, err)
	}
	var option data.OptionType
	switch symbol[n-9] {
	case 'C':
		option = data.Call
	case 'P':
		option = data.Put
	default:
		return Contract{}, fmt.Errorf("occ symbol %q: unknown type %q", symbol, symbol[n-9])
	}
	day, err := time.Parse("060102", symbol[n-15:n-9])
	if err != nil {
		return Contract{}, fmt.Errorf("occ symbol %q: expiry: %w", symbol, err)
	}
	return Contract{
		Root:   symbol[:n-15],
		Expiry: time.Date(day.Year(), day.Month(), day.Day(), expiryHourUTC, 0, 0, 0, time.UTC),
		Type:   option,
		Strike: float64(strike) / 1000,
	}, nil
}
