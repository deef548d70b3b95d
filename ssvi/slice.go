package ssvi

import (
	"fmt"
	"math"
	"sort"

	"github.com/banachtech/volsurface/data"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
)

// SliceConfig controls the per-expiry fit.
type SliceConfig struct {
	Solver          Solver
	MinObservations int
	Tolerance       float64 // weighted relative RMSE accepted as converged
	EtaMax          float64 // upper bound of eta on the first pass
	RhoBound        float64
	ATMWindow       float64 // |k| range used to seed the curvature
	Ridge           float64 // weight of the rho^2 penalty, keeps rho pinned on flat smiles
}

func DefaultSliceConfig() SliceConfig {
	return SliceConfig{
		Solver:          DefaultSolver(),
		MinObservations: 3,
		Tolerance:       0.05,
		EtaMax:          4.0,
		RhoBound:        0.999,
		ATMWindow:       0.3,
		Ridge:           1e-6,
	}
}

func (c SliceConfig) withDefaults() SliceConfig {
	d := DefaultSliceConfig()
	if c.Solver == nil {
		c.Solver = d.Solver
	}
	if c.MinObservations < 3 {
		c.MinObservations = d.MinObservations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = d.Tolerance
	}
	if c.EtaMax <= 0 {
		c.EtaMax = d.EtaMax
	}
	if c.RhoBound <= 0 || c.RhoBound >= 1 {
		c.RhoBound = d.RhoBound
	}
	if c.ATMWindow <= 0 {
		c.ATMWindow = d.ATMWindow
	}
	if c.Ridge < 0 {
		c.Ridge = 0
	}
	return c
}

// sliceTransform maps slice parameters to the unconstrained solver domain:
// log for theta, atanh for rho and logit of eta over its upper bound. With
// tight set, the eta bound follows the butterfly limits of the current
// (rho, theta), so every point the solver visits is arbitrage free.
type sliceTransform struct {
	rhoBound float64
	etaMax   float64
	tight    bool
}

func (t sliceTransform) limit(rho, theta float64) float64 {
	if t.tight {
		return 0.999 * etaLimit(rho, theta)
	}
	return t.etaMax
}

func (t sliceTransform) get(p SliceParameters) []float64 {
	theta := math.Max(p.Theta, 1e-10)
	r := clamp(p.Rho/t.rhoBound, -1+1e-9, 1-1e-9)
	u := clamp(p.Eta/t.limit(p.Rho, theta), 1e-9, 1-1e-9)
	return []float64{math.Log(theta), math.Atanh(r), math.Log(u / (1 - u))}
}

func (t sliceTransform) set(x []float64) (theta, rho, eta float64) {
	theta = math.Exp(x[0])
	rho = t.rhoBound * math.Tanh(x[1])
	eta = t.limit(rho, theta) / (1 + math.Exp(-x[2]))
	return theta, rho, eta
}

// FitSlice calibrates the SSVI smile of one expiry.
//
// A fit rejected by the arbitrage guard is retried once with tight bounds;
// a second rejection returns CalibrationInvalidError. A fit whose residual
// stays above tolerance is returned with Degraded set, together with a
// ConvergenceError.
func FitSlice(obs []data.VarianceObservation, cfg SliceConfig) (SliceParameters, error) {
	cfg = cfg.withDefaults()
	valid := usable(obs)
	tau := sliceTau(valid)
	if len(valid) < cfg.MinObservations {
		return SliceParameters{Tau: tau}, &InsufficientDataError{Tau: tau, Have: len(valid), Need: cfg.MinObservations}
	}

	seed := seedSlice(valid, cfg)
	p, sol, err := solveSlice(valid, seed, sliceTransform{rhoBound: cfg.RhoBound, etaMax: cfg.EtaMax}, cfg)
	if err != nil {
		return p, fmt.Errorf("fit slice tau=%.6f: %w", tau, err)
	}

	if diag := CheckSlice(p); !diag.OK() {
		p, sol, err = solveSlice(valid, p, sliceTransform{rhoBound: cfg.RhoBound, tight: true}, cfg)
		if err != nil {
			return p, fmt.Errorf("refit slice tau=%.6f: %w", tau, err)
		}
		if diag = CheckSlice(p); !diag.OK() {
			return p, &CalibrationInvalidError{Diagnostic: diag}
		}
	}

	if !sol.Converged || p.RMSE > cfg.Tolerance {
		p.Degraded = true
		return p, &ConvergenceError{Tau: tau, RMSE: p.RMSE, Tolerance: cfg.Tolerance, Converged: sol.Converged}
	}
	return p, nil
}

func solveSlice(obs []data.VarianceObservation, start SliceParameters, tr sliceTransform, cfg SliceConfig) (SliceParameters, Solution, error) {
	scale := weightedMeanW(obs)
	loss := func(x []float64) float64 {
		theta, rho, eta := tr.set(x)
		v := sliceLoss(obs, scale, theta, rho, eta) + cfg.Ridge*rho*rho
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.MaxFloat64
		}
		return v
	}
	sol, err := cfg.Solver.Minimize(Problem{Func: loss, Init: tr.get(start)})
	theta, rho, eta := tr.set(sol.X)
	p := SliceParameters{
		Tau:          start.Tau,
		Theta:        theta,
		Rho:          rho,
		Eta:          eta,
		RMSE:         math.Sqrt(sliceLoss(obs, scale, theta, rho, eta)),
		Observations: len(obs),
	}
	return p, sol, err
}

// sliceLoss is the weighted mean squared residual relative to the mean
// observed total variance.
func sliceLoss(obs []data.VarianceObservation, scale, theta, rho, eta float64) float64 {
	var num, den float64
	for _, o := range obs {
		r := (smile(o.K, theta, rho, eta) - o.W) / scale
		num += o.Weight * r * r
		den += o.Weight
	}
	return num / den
}

func usable(obs []data.VarianceObservation) []data.VarianceObservation {
	out := make([]data.VarianceObservation, 0, len(obs))
	for _, o := range obs {
		if finite(o.K) && finite(o.W) && o.W >= 0 && finite(o.Weight) && o.Weight > 0 && o.Tau > 0 {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].K < out[j].K })
	return out
}

func sliceTau(obs []data.VarianceObservation) float64 {
	if len(obs) == 0 {
		return 0
	}
	var s float64
	for _, o := range obs {
		s += o.Tau
	}
	return s / float64(len(obs))
}

func weightedMeanW(obs []data.VarianceObservation) float64 {
	var num, den float64
	for _, o := range obs {
		num += o.Weight * o.W
		den += o.Weight
	}
	if den == 0 || num <= 0 {
		return 1e-12
	}
	return num / den
}

// seedSlice builds the deterministic starting point: theta interpolated at
// k=0, rho=0 and eta from the ATM curvature.
func seedSlice(obs []data.VarianceObservation, cfg SliceConfig) SliceParameters {
	return SliceParameters{
		Tau:   sliceTau(obs),
		Theta: math.Max(atmSeed(obs), 1e-8),
		Rho:   0,
		Eta:   math.Min(curvatureSeed(obs, cfg.ATMWindow), 0.5*cfg.EtaMax),
	}
}

// obs must be sorted by K.
func atmSeed(obs []data.VarianceObservation) float64 {
	var xs, ys []float64
	for _, o := range obs {
		if len(xs) > 0 && o.K <= xs[len(xs)-1] {
			continue
		}
		xs = append(xs, o.K)
		ys = append(ys, o.W)
	}
	if len(xs) >= 2 && xs[0] <= 0 && xs[len(xs)-1] >= 0 {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err == nil {
			return pl.Predict(0)
		}
	}
	nearest := obs[0]
	for _, o := range obs[1:] {
		if math.Abs(o.K) < math.Abs(nearest.K) {
			nearest = o
		}
	}
	return nearest.W
}

// curvatureSeed fits w = c0 + c1*k + c2*k^2 near the money. With rho=0 the
// SSVI smile has c2 = eta^2/4, so eta = 2*sqrt(c2).
func curvatureSeed(obs []data.VarianceObservation, window float64) float64 {
	const floor = 1e-6
	var near []data.VarianceObservation
	for _, o := range obs {
		if math.Abs(o.K) <= window {
			near = append(near, o)
		}
	}
	if len(near) < 3 {
		near = obs
	}
	a := mat.NewDense(3, 3, nil)
	b := mat.NewVecDense(3, nil)
	for _, o := range near {
		pw := [5]float64{1, o.K, o.K * o.K, o.K * o.K * o.K, o.K * o.K * o.K * o.K}
		for i := 0; i < 3; i++ {
			b.SetVec(i, b.AtVec(i)+o.Weight*pw[i]*o.W)
			for j := 0; j < 3; j++ {
				a.Set(i, j, a.At(i, j)+o.Weight*pw[i+j])
			}
		}
	}
	var c mat.VecDense
	if err := c.SolveVec(a, b); err != nil {
		return 2 * math.Sqrt(floor)
	}
	c2 := c.AtVec(2)
	if !finite(c2) || c2 < floor {
		c2 = floor
	}
	return 2 * math.Sqrt(c2)
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
