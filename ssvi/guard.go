package ssvi

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type ViolationKind string

const (
	RhoOutOfRange      ViolationKind = "rho_out_of_range"
	NegativeTheta      ViolationKind = "negative_theta"
	NonPositiveEta     ViolationKind = "non_positive_eta"
	ButterflyEtaRho    ViolationKind = "butterfly_eta_rho"    // eta*(1+|rho|) < 4
	ButterflyEtaSqRho  ViolationKind = "butterfly_eta_sq_rho" // eta^2*(1+|rho|) <= 4
	ButterflyThetaPhi  ViolationKind = "butterfly_theta_phi"  // theta*phi*(1+|rho|) < 4
	CalendarDecreasing ViolationKind = "calendar_decreasing"
	CalendarSlope      ViolationKind = "calendar_slope"
)

// Violation locates one failed no-arbitrage condition.
type Violation struct {
	Kind  ViolationKind `json:"kind"`
	Tau   float64       `json:"tau"`
	Value float64       `json:"value"`
	Limit float64       `json:"limit"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s at tau=%.4f (value %.6g, limit %.6g)", v.Kind, v.Tau, v.Value, v.Limit)
}

// Diagnostic is the guard verdict; an empty violation list passes.
type Diagnostic struct {
	Violations []Violation `json:"violations"`
}

func (d Diagnostic) OK() bool {
	return len(d.Violations) == 0
}

func (d Diagnostic) String() string {
	if d.OK() {
		return "ok"
	}
	parts := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

func (d *Diagnostic) add(kind ViolationKind, tau, value, limit float64) {
	d.Violations = append(d.Violations, Violation{Kind: kind, Tau: tau, Value: value, Limit: limit})
}

// CheckSlice validates one smile against the SSVI butterfly conditions.
func CheckSlice(p SliceParameters) Diagnostic {
	var d Diagnostic
	checkSmile(&d, p.Tau, p.Theta, p.Rho, p.Eta)
	return d
}

// CheckSurface validates every fit expiry for butterfly arbitrage and the
// ATM term structure for calendar arbitrage.
func CheckSurface(s SurfaceParameters, taus []float64) Diagnostic {
	var d Diagnostic
	ts := append([]float64(nil), taus...)
	sort.Float64s(ts)
	prev := math.Inf(-1)
	for _, tau := range ts {
		theta := s.Theta(tau)
		checkSmile(&d, tau, theta, s.RhoAt(tau), s.Eta)
		if theta < prev {
			d.add(CalendarDecreasing, tau, theta, prev)
		}
		if slope := s.ThetaSlope(tau); slope < 0 || math.IsNaN(slope) {
			d.add(CalendarSlope, tau, slope, 0)
		}
		prev = theta
	}
	return d
}

func checkSmile(d *Diagnostic, tau, theta, rho, eta float64) {
	if !(rho > -1 && rho < 1) {
		d.add(RhoOutOfRange, tau, rho, 1)
		return
	}
	if !(theta >= 0) {
		d.add(NegativeTheta, tau, theta, 0)
		return
	}
	if !(eta > 0) {
		d.add(NonPositiveEta, tau, eta, 0)
		return
	}
	r := 1 + math.Abs(rho)
	if v := eta * r; !(v < 4) {
		d.add(ButterflyEtaRho, tau, v, 4)
	}
	if v := eta * eta * r; !(v <= 4) {
		d.add(ButterflyEtaSqRho, tau, v, 4)
	}
	// theta*phi = eta*sqrt(theta) for the square-root curvature
	if v := eta * math.Sqrt(theta) * r; !(v < 4) {
		d.add(ButterflyThetaPhi, tau, v, 4)
	}
}

// etaLimit is the largest eta meeting the butterfly conditions at (rho, theta).
func etaLimit(rho, theta float64) float64 {
	r := 1 + math.Abs(rho)
	lim := 2 / math.Sqrt(r)
	if theta > 0 {
		lim = math.Min(lim, 4/(r*math.Sqrt(theta)))
	}
	return lim
}
