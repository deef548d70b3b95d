package ssvi

import "math"

// Evaluation holds w and sigma over a log-moneyness grid at one expiry.
type Evaluation struct {
	Tau          float64   `json:"tau"`
	K            []float64 `json:"k"`
	W            []float64 `json:"w"`
	Sigma        []float64 `json:"sigma"`
	Extrapolated bool      `json:"extrapolated"`
}

// EvaluateSlice evaluates a single fitted smile on ks.
func EvaluateSlice(p SliceParameters, ks []float64) Evaluation {
	return evaluate(ks, p.Tau, false, p.TotalVariance)
}

// EvaluateSurface evaluates the surface at tau. Extrapolated is set when tau
// lies outside the fitted expiry range, or the range is unknown.
func EvaluateSurface(s SurfaceParameters, ks []float64, tau float64) Evaluation {
	slice := s.Slice(tau)
	extrapolated := s.TauMax <= 0 || tau < s.TauMin || tau > s.TauMax
	return evaluate(ks, tau, extrapolated, slice.TotalVariance)
}

// TotalVariance evaluates w(k, tau) directly from surface parameters.
func TotalVariance(k, tau, a, b, c, rho, eta float64) float64 {
	return smile(k, atmVariance(tau, a, b, c), rho, eta)
}

// ImpliedVol converts total variance at tau to Black volatility.
func ImpliedVol(w, tau float64) float64 {
	if tau <= 0 || w <= 0 {
		return 0
	}
	return math.Sqrt(w / tau)
}

func evaluate(ks []float64, tau float64, extrapolated bool, w func(float64) float64) Evaluation {
	e := Evaluation{
		Tau:          tau,
		K:            append([]float64(nil), ks...),
		W:            make([]float64, len(ks)),
		Sigma:        make([]float64, len(ks)),
		Extrapolated: extrapolated,
	}
	for i, k := range ks {
		e.W[i] = w(k)
		e.Sigma[i] = ImpliedVol(e.W[i], tau)
	}
	return e
}
