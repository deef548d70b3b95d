package ssvi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNelderMeadQuadratic(t *testing.T) {
	p := Problem{
		Func: func(x []float64) float64 {
			a, b := x[0]-1, x[1]+2
			return a*a + 3*b*b
		},
		Init: []float64{0, 0},
	}
	sol, err := DefaultSolver().Minimize(p)
	require.NoError(t, err)
	require.True(t, sol.Converged)
	require.InDelta(t, 1, sol.X[0], 1e-5)
	require.InDelta(t, -2, sol.X[1], 1e-5)
	require.Greater(t, sol.Evaluations, 0)
	// the start point is not modified
	require.Equal(t, []float64{0, 0}, p.Init)
}

func TestNelderMeadBudget(t *testing.T) {
	rosen := func(x []float64) float64 {
		a, b := 1-x[0], x[1]-x[0]*x[0]
		return a*a + 100*b*b
	}
	sol, err := NelderMead{MaxIterations: 5, MaxEvaluations: 50}.Minimize(Problem{Func: rosen, Init: []float64{-1.2, 1}})
	require.NoError(t, err)
	require.False(t, sol.Converged)
	require.Less(t, sol.F, rosen([]float64{-1.2, 1}))
}

func TestNelderMeadEmpty(t *testing.T) {
	_, err := DefaultSolver().Minimize(Problem{Func: func([]float64) float64 { return 0 }})
	require.Error(t, err)
}
