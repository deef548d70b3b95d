package data

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrNoBracket      = errors.New("root is not bracketed")
	ErrNoConvergence  = errors.New("root finder did not converge")
	ErrBelowIntrinsic = errors.New("price below intrinsic value")
	ErrAboveBound     = errors.New("price above no-arbitrage upper bound")
)

var stdNormal = distuv.Normal{Mu: 0.0, Sigma: 1.0}

// BlackPrice is the Black-76 price of a European option on the forward f,
// discounted with df.
func BlackPrice(f, k, tau, sigma, df float64, option OptionType) float64 {
	if tau <= 0 || sigma <= 0 {
		return df * intrinsic(f, k, option)
	}
	x := sigma * math.Sqrt(tau)
	d1 := (math.Log(f/k) + 0.5*x*x) / x
	d2 := d1 - x
	if option == Put {
		return df * (k*stdNormal.CDF(-d2) - f*stdNormal.CDF(-d1))
	}
	return df * (f*stdNormal.CDF(d1) - k*stdNormal.CDF(d2))
}

// BlackVega is the derivative of BlackPrice with respect to sigma.
func BlackVega(f, k, tau, sigma, df float64) float64 {
	if tau <= 0 || sigma <= 0 {
		return 0
	}
	x := sigma * math.Sqrt(tau)
	d1 := (math.Log(f/k) + 0.5*x*x) / x
	return df * f * stdNormal.Prob(d1) * math.Sqrt(tau)
}

func intrinsic(f, k float64, option OptionType) float64 {
	if option == Put {
		return math.Max(k-f, 0)
	}
	return math.Max(f-k, 0)
}

// RootFinder solves f(x) = 0 on [lo, hi]. df may be nil.
type RootFinder interface {
	FindRoot(f, df func(float64) float64, lo, hi float64) (float64, error)
}

// BisectNewton is a safeguarded Newton iteration: Newton steps are taken
// while they stay inside the bracket, bisection otherwise.
type BisectNewton struct {
	Tolerance     float64
	MaxIterations int
}

// DefaultRootFinder is used when no root finder is configured.
func DefaultRootFinder() BisectNewton {
	return BisectNewton{Tolerance: 1e-12, MaxIterations: 100}
}

func (b BisectNewton) FindRoot(f, df func(float64) float64, lo, hi float64) (float64, error) {
	flo, fhi := f(lo), f(hi)
	if flo == 0 {
		return lo, nil
	}
	if fhi == 0 {
		return hi, nil
	}
	if math.Signbit(flo) == math.Signbit(fhi) {
		return math.NaN(), ErrNoBracket
	}
	// keep f(lo) < 0 < f(hi)
	if flo > 0 {
		lo, hi = hi, lo
	}
	x := 0.5 * (lo + hi)
	for i := 0; i < b.MaxIterations; i++ {
		fx := f(x)
		if fx == 0 {
			return x, nil
		}
		if fx < 0 {
			lo = x
		} else {
			hi = x
		}
		tol := b.Tolerance * math.Max(1, math.Abs(x))
		if math.Abs(hi-lo) < tol {
			return x, nil
		}
		next := math.NaN()
		if df != nil {
			if d := df(x); d != 0 && !math.IsNaN(d) {
				step := fx / d
				// converged in x, whatever the scale of f
				if math.Abs(step) < tol {
					return x - step, nil
				}
				next = x - step
			}
		}
		if math.IsNaN(next) || next <= math.Min(lo, hi) || next >= math.Max(lo, hi) {
			next = 0.5 * (lo + hi)
		}
		x = next
	}
	return x, ErrNoConvergence
}

// ImpliedVol inverts BlackPrice for sigma within [1e-6, 10].
func ImpliedVol(price, f, k, tau, df float64, option OptionType, rf RootFinder) (float64, error) {
	if rf == nil {
		rf = DefaultRootFinder()
	}
	lower := df * intrinsic(f, k, option)
	upper := df * f
	if option == Put {
		upper = df * k
	}
	// no time value means no real implied volatility
	if price <= lower {
		return math.NaN(), ErrBelowIntrinsic
	}
	if price >= upper {
		return math.NaN(), ErrAboveBound
	}
	// normalise by the forward so the tolerance is scale free
	obj := func(sigma float64) float64 {
		return (BlackPrice(f, k, tau, sigma, df, option) - price) / f
	}
	vega := func(sigma float64) float64 {
		return BlackVega(f, k, tau, sigma, df) / f
	}
	sigma, err := rf.FindRoot(obj, vega, 1e-6, 10.0)
	if err != nil {
		return math.NaN(), err
	}
	return sigma, nil
}
