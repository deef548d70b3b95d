package ssvi

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

type RhoMode string

const (
	RhoGlobal   RhoMode = "global"
	RhoPerSlice RhoMode = "per-slice"
)

func ParseRhoMode(s string) (RhoMode, error) {
	switch RhoMode(s) {
	case "", RhoGlobal:
		return RhoGlobal, nil
	case RhoPerSlice:
		return RhoPerSlice, nil
	}
	return "", fmt.Errorf("unknown rho mode %q", s)
}

// TermConfig controls the term-structure fit.
type TermConfig struct {
	Solver    Solver
	RhoMode   RhoMode
	Tolerance float64 // weighted relative RMSE of theta accepted as converged
}

func DefaultTermConfig() TermConfig {
	return TermConfig{Solver: DefaultSolver(), RhoMode: RhoGlobal, Tolerance: 0.1}
}

func (c TermConfig) withDefaults() TermConfig {
	d := DefaultTermConfig()
	if c.Solver == nil {
		c.Solver = d.Solver
	}
	if c.RhoMode == "" {
		c.RhoMode = d.RhoMode
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	return c
}

// residual variance floor in the slice weights
const weightEpsilon = 1e-6

// FitTermStructure fits theta(tau) = a*tau + b*(1-exp(-c*tau)) through the
// per-slice ATM variances and pools rho and eta across slices. Slices are
// weighted by n / (rmse^2 + eps). The result is Degraded when any input
// slice is; a term fit above tolerance also returns a ConvergenceError.
func FitTermStructure(slices []SliceParameters, cfg TermConfig) (SurfaceParameters, error) {
	cfg = cfg.withDefaults()
	ss := make([]SliceParameters, 0, len(slices))
	for _, s := range slices {
		if s.Tau > 0 && s.Theta > 0 && finite(s.Theta) {
			ss = append(ss, s)
		}
	}
	sort.SliceStable(ss, func(i, j int) bool { return ss[i].Tau < ss[j].Tau })
	if n := distinctTaus(ss); n < 2 {
		return SurfaceParameters{}, &DegenerateSurfaceError{Expiries: n}
	}

	taus := make([]float64, len(ss))
	thetas := make([]float64, len(ss))
	rhos := make([]float64, len(ss))
	etas := make([]float64, len(ss))
	weights := make([]float64, len(ss))
	degraded := false
	for i, s := range ss {
		taus[i], thetas[i], rhos[i], etas[i] = s.Tau, s.Theta, s.Rho, s.Eta
		n := math.Max(float64(s.Observations), 1)
		weights[i] = n / (s.RMSE*s.RMSE + weightEpsilon)
		degraded = degraded || s.Degraded
	}

	sol, err := cfg.Solver.Minimize(Problem{
		Func: func(x []float64) float64 {
			v := termLoss(taus, thetas, weights, math.Exp(x[0]), math.Exp(x[1]), math.Exp(x[2]))
			if !finite(v) {
				return math.MaxFloat64
			}
			return v
		},
		Init: termSeed(taus, thetas),
	})
	if err != nil {
		return SurfaceParameters{}, fmt.Errorf("fit term structure: %w", err)
	}

	s := SurfaceParameters{
		A:        math.Exp(sol.X[0]),
		B:        math.Exp(sol.X[1]),
		C:        math.Exp(sol.X[2]),
		Rho:      stat.Mean(rhos, weights),
		Eta:      stat.Mean(etas, weights),
		TauMin:   taus[0],
		TauMax:   taus[len(taus)-1],
		Degraded: degraded,
	}
	if cfg.RhoMode == RhoPerSlice {
		s.RhoTerm = rhoKnots(taus, rhos, weights)
	}

	if diag := CheckSurface(s, taus); !diag.OK() {
		s.Eta = projectEta(s, taus)
		if diag = CheckSurface(s, taus); !diag.OK() {
			return s, &CalibrationInvalidError{Diagnostic: diag}
		}
	}

	rmse := math.Sqrt(termLoss(taus, thetas, weights, s.A, s.B, s.C))
	if !sol.Converged || rmse > cfg.Tolerance {
		s.Degraded = true
		return s, &ConvergenceError{RMSE: rmse, Tolerance: cfg.Tolerance, Converged: sol.Converged}
	}
	return s, nil
}

// termLoss is the weighted mean squared relative theta residual.
func termLoss(taus, thetas, weights []float64, a, b, c float64) float64 {
	var num, den float64
	for i, tau := range taus {
		r := (atmVariance(tau, a, b, c) - thetas[i]) / thetas[i]
		num += weights[i] * r * r
		den += weights[i]
	}
	return num / den
}

// termSeed starts a at the average slope, c at the inverse of the first
// expiry and b so the curve passes near the first theta.
func termSeed(taus, thetas []float64) []float64 {
	n := len(taus) - 1
	a := math.Max((thetas[n]-thetas[0])/(taus[n]-taus[0]), 1e-4)
	c := clamp(1/taus[0], 0.1, 50)
	b := math.Max(thetas[0]-a*taus[0], 1e-5) / (1 - math.Exp(-1))
	return []float64{math.Log(a), math.Log(b), math.Log(c)}
}

// rhoKnots collapses slices sharing an expiry into one weighted knot.
func rhoKnots(taus, rhos, weights []float64) []RhoKnot {
	var knots []RhoKnot
	for i := 0; i < len(taus); {
		j := i
		for j < len(taus) && taus[j] == taus[i] {
			j++
		}
		knots = append(knots, RhoKnot{Tau: taus[i], Rho: stat.Mean(rhos[i:j], weights[i:j])})
		i = j
	}
	return knots
}

// projectEta tightens the global eta to the butterfly bound of every fit expiry.
func projectEta(s SurfaceParameters, taus []float64) float64 {
	eta := s.Eta
	for _, tau := range taus {
		eta = math.Min(eta, 0.999*etaLimit(s.RhoAt(tau), s.Theta(tau)))
	}
	return eta
}

func distinctTaus(ss []SliceParameters) int {
	n := 0
	for i, s := range ss {
		if i == 0 || s.Tau != ss[i-1].Tau {
			n++
		}
	}
	return n
}
