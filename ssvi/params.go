package ssvi

import (
	"math"

	"gonum.org/v1/gonum/interp"
)

// SliceParameters describe the SSVI smile of one expiry. The curvature is
// phi(theta) = eta / sqrt(theta).
type SliceParameters struct {
	Tau          float64 `json:"tau"`
	Theta        float64 `json:"theta"`
	Rho          float64 `json:"rho"`
	Eta          float64 `json:"eta"`
	RMSE         float64 `json:"rmse"`
	Observations int     `json:"observations"`
	Degraded     bool    `json:"degraded"`
}

// Phi is the smile curvature of the slice.
func (p SliceParameters) Phi() float64 {
	return phi(p.Theta, p.Eta)
}

// TotalVariance evaluates w(k) on the slice.
func (p SliceParameters) TotalVariance(k float64) float64 {
	return smile(k, p.Theta, p.Rho, p.Eta)
}

// RhoKnot is one per-expiry correlation when the surface keeps rho per slice.
type RhoKnot struct {
	Tau float64 `json:"tau"`
	Rho float64 `json:"rho"`
}

// SurfaceParameters is the global SSVI surface
//
//	theta(tau) = a*tau + b*(1 - exp(-c*tau))
//	w(k, tau)  = theta/2 * (1 + rho*phi*k + sqrt((phi*k + rho)^2 + 1 - rho^2)),  phi = eta/sqrt(theta)
//
// TauMin and TauMax bound the expiries the surface was fitted on.
type SurfaceParameters struct {
	A        float64   `json:"a"`
	B        float64   `json:"b"`
	C        float64   `json:"c"`
	Rho      float64   `json:"rho"`
	Eta      float64   `json:"eta"`
	TauMin   float64   `json:"tau_min"`
	TauMax   float64   `json:"tau_max"`
	RhoTerm  []RhoKnot `json:"rho_term,omitempty"`
	Degraded bool      `json:"degraded"`
}

// Theta is the ATM total variance at tau.
func (s SurfaceParameters) Theta(tau float64) float64 {
	return atmVariance(tau, s.A, s.B, s.C)
}

// ThetaSlope is d(theta)/d(tau).
func (s SurfaceParameters) ThetaSlope(tau float64) float64 {
	return s.A + s.B*s.C*math.Exp(-s.C*tau)
}

// RhoAt returns the correlation at tau: the global rho, or the per-slice
// knots interpolated linearly in tau and held flat outside them.
func (s SurfaceParameters) RhoAt(tau float64) float64 {
	switch len(s.RhoTerm) {
	case 0:
		return s.Rho
	case 1:
		return s.RhoTerm[0].Rho
	}
	xs := make([]float64, len(s.RhoTerm))
	ys := make([]float64, len(s.RhoTerm))
	for i, kn := range s.RhoTerm {
		xs[i], ys[i] = kn.Tau, kn.Rho
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return s.Rho
	}
	return pl.Predict(math.Min(math.Max(tau, xs[0]), xs[len(xs)-1]))
}

// Slice returns the smile of the surface at tau.
func (s SurfaceParameters) Slice(tau float64) SliceParameters {
	return SliceParameters{Tau: tau, Theta: s.Theta(tau), Rho: s.RhoAt(tau), Eta: s.Eta, Degraded: s.Degraded}
}

// TotalVariance evaluates w(k, tau).
func (s SurfaceParameters) TotalVariance(k, tau float64) float64 {
	return smile(k, s.Theta(tau), s.RhoAt(tau), s.Eta)
}

func atmVariance(tau, a, b, c float64) float64 {
	if tau <= 0 {
		return 0
	}
	return a*tau - b*math.Expm1(-c*tau)
}

func phi(theta, eta float64) float64 {
	if theta <= 0 {
		return 0
	}
	return eta / math.Sqrt(theta)
}

func smile(k, theta, rho, eta float64) float64 {
	if theta <= 0 {
		return 0
	}
	if k == 0 {
		return theta
	}
	f := phi(theta, eta)
	x := f*k + rho
	w := 0.5 * theta * (1 + rho*f*k + math.Sqrt(x*x+1-rho*rho))
	return math.Max(w, 0)
}
