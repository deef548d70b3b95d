package marketdata

import "context"

// RateSource supplies the continuously compounded risk-free rate and
// dividend yield used for the forward when put-call parity is unavailable.
type RateSource interface {
	Rates(ctx context.Context, symbol string, tau float64) (rate, dividend float64, err error)
}

// FlatRates returns the same rate and dividend yield for every symbol and tenor.
type FlatRates struct {
	Rate     float64
	Dividend float64
}

func (f FlatRates) Rates(_ context.Context, _ string, _ float64) (float64, float64, error) {
	return f.Rate, f.Dividend, nil
}
