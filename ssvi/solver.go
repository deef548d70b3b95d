package ssvi

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Problem is an unconstrained minimisation over transformed parameters.
// Bounds are handled by the caller's parameter transform.
type Problem struct {
	Func func(x []float64) float64
	Init []float64
}

// Solution is the best point found by a Solver.
type Solution struct {
	X           []float64
	F           float64
	Converged   bool
	Iterations  int
	Evaluations int
}

// Solver minimises a Problem within a fixed budget. Implementations must
// return the best point found even when the budget runs out.
type Solver interface {
	Minimize(p Problem) (Solution, error)
}

// NelderMead runs gonum's Nelder-Mead simplex, restarting from the best
// point to escape a collapsed simplex.
type NelderMead struct {
	MaxIterations  int
	MaxEvaluations int
	Restarts       int
	Tolerance      float64
}

func DefaultSolver() NelderMead {
	return NelderMead{MaxIterations: 4000, MaxEvaluations: 20000, Restarts: 2, Tolerance: 1e-14}
}

func (nm NelderMead) Minimize(p Problem) (Solution, error) {
	if len(p.Init) == 0 {
		return Solution{}, errors.New("empty initial point")
	}
	best := Solution{X: append([]float64(nil), p.Init...), F: math.Inf(1)}
	x := append([]float64(nil), p.Init...)
	for r := 0; r <= nm.Restarts; r++ {
		settings := &optimize.Settings{
			MajorIterations: nm.MaxIterations,
			FuncEvaluations: nm.MaxEvaluations,
			Converger: &optimize.FunctionConverge{
				Absolute:   nm.Tolerance,
				Relative:   nm.Tolerance,
				Iterations: 50,
			},
		}
		res, err := optimize.Minimize(optimize.Problem{Func: p.Func}, x, settings, &optimize.NelderMead{})
		if res == nil {
			if err == nil {
				err = errors.New("optimizer returned no result")
			}
			return best, err
		}
		best.Iterations += res.Stats.MajorIterations
		best.Evaluations += res.Stats.FuncEvaluations
		improved := res.F < best.F
		prev := best.F
		if improved {
			best.X = append(best.X[:0], res.X...)
			best.F = res.F
		}
		best.Converged = err == nil && !budgetExhausted(res.Status)
		if err != nil {
			return best, err
		}
		// stop once a restart no longer improves the objective
		if !improved || math.Abs(prev-res.F) <= nm.Tolerance*(1+math.Abs(res.F)) {
			break
		}
		x = append(x[:0], best.X...)
	}
	return best, nil
}

func budgetExhausted(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return true
	}
	return false
}
