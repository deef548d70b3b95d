package ssvi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateSurface(t *testing.T) {
	s := testSurface
	s.TauMin, s.TauMax = 0.1, 2
	ks := []float64{-0.2, 0, 0.2}

	testCases := []struct {
		name         string
		tau          float64
		extrapolated bool
	}{
		{name: "Inside", tau: 0.5},
		{name: "LowerEdge", tau: 0.1},
		{name: "UpperEdge", tau: 2},
		{name: "Short", tau: 0.05, extrapolated: true},
		{name: "Long", tau: 3, extrapolated: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := EvaluateSurface(s, ks, tc.tau)
			require.Equal(t, tc.extrapolated, e.Extrapolated)
			require.Equal(t, tc.tau, e.Tau)
			require.Equal(t, ks, e.K)
			require.Equal(t, s.Theta(tc.tau), e.W[1])
			for i, k := range ks {
				w := TotalVariance(k, tc.tau, s.A, s.B, s.C, s.Rho, s.Eta)
				require.InDelta(t, w, e.W[i], 1e-15)
				require.InDelta(t, math.Sqrt(w/tc.tau), e.Sigma[i], 1e-15)
			}
		})
	}
}

func TestEvaluateUnknownRange(t *testing.T) {
	e := EvaluateSurface(testSurface, []float64{0}, 1)
	require.True(t, e.Extrapolated)
}

func TestEvaluateIdempotent(t *testing.T) {
	s := testSurface
	s.TauMin, s.TauMax = 0.1, 2
	ks := []float64{-0.5, -0.1, 0, 0.1, 0.5}

	first := EvaluateSurface(s, ks, 0.75)
	second := EvaluateSurface(s, ks, 0.75)
	require.Equal(t, first, second)

	ks[0] = 10
	require.Equal(t, -0.5, first.K[0])
}

func TestEvaluateSlice(t *testing.T) {
	p := SliceParameters{Tau: 0.25, Theta: 0.01, Rho: -0.3, Eta: 0.9}
	e := EvaluateSlice(p, []float64{-0.1, 0, 0.1})
	require.False(t, e.Extrapolated)
	require.Equal(t, 0.01, e.W[1])
	require.InDelta(t, 0.2, e.Sigma[1], 1e-15)
	// negative rho skews variance to the left
	require.Greater(t, e.W[0], e.W[2])
}

func TestImpliedVol(t *testing.T) {
	require.InDelta(t, 0.2, ImpliedVol(0.04, 1), 1e-15)
	require.Equal(t, 0.0, ImpliedVol(0.04, 0))
	require.Equal(t, 0.0, ImpliedVol(-1, 1))
}
