package ssvi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckSlice(t *testing.T) {
	testCases := []struct {
		name  string
		p     SliceParameters
		kinds []ViolationKind
	}{
		{name: "OK", p: SliceParameters{Tau: 1, Theta: 0.04, Rho: -0.5, Eta: 1}},
		{name: "RhoAtBound", p: SliceParameters{Tau: 1, Theta: 0.04, Rho: -1, Eta: 1}, kinds: []ViolationKind{RhoOutOfRange}},
		{name: "RhoNaN", p: SliceParameters{Tau: 1, Theta: 0.04, Rho: math.NaN(), Eta: 1}, kinds: []ViolationKind{RhoOutOfRange}},
		{name: "NegativeTheta", p: SliceParameters{Tau: 1, Theta: -0.01, Rho: 0, Eta: 1}, kinds: []ViolationKind{NegativeTheta}},
		{name: "ZeroEta", p: SliceParameters{Tau: 1, Theta: 0.04, Rho: 0, Eta: 0}, kinds: []ViolationKind{NonPositiveEta}},
		{
			name:  "EtaSquared",
			p:     SliceParameters{Tau: 1, Theta: 0.04, Rho: 0.5, Eta: 1.7},
			kinds: []ViolationKind{ButterflyEtaSqRho},
		},
		{
			name:  "AllButterfly",
			p:     SliceParameters{Tau: 1, Theta: 4, Rho: 0.9, Eta: 2.5},
			kinds: []ViolationKind{ButterflyEtaRho, ButterflyEtaSqRho, ButterflyThetaPhi},
		},
		{
			name:  "ThetaPhiOnly",
			p:     SliceParameters{Tau: 5, Theta: 9, Rho: 0, Eta: 1.4},
			kinds: []ViolationKind{ButterflyThetaPhi},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := CheckSlice(tc.p)
			require.Equal(t, len(tc.kinds) == 0, d.OK())
			require.Len(t, d.Violations, len(tc.kinds))
			for i, v := range d.Violations {
				require.Equal(t, tc.kinds[i], v.Kind)
				require.Equal(t, tc.p.Tau, v.Tau)
			}
		})
	}
}

func TestCheckSurface(t *testing.T) {
	taus := []float64{1, 0.25, 0.5}
	require.True(t, CheckSurface(testSurface, taus).OK())

	// a negative long-run rate eventually bends theta down
	bent := SurfaceParameters{A: -0.05, B: 0.2, C: 2, Rho: -0.3, Eta: 1}
	d := CheckSurface(bent, []float64{0.5, 1, 2, 4})
	require.False(t, d.OK())
	kinds := map[ViolationKind]bool{}
	for _, v := range d.Violations {
		kinds[v.Kind] = true
	}
	require.True(t, kinds[CalendarDecreasing])
	require.True(t, kinds[CalendarSlope])
	require.Contains(t, d.String(), string(CalendarDecreasing))
}

func TestEtaLimit(t *testing.T) {
	for _, rho := range []float64{-0.99, -0.5, 0, 0.3, 0.9} {
		for _, theta := range []float64{0.001, 0.04, 1, 10} {
			eta := 0.999 * etaLimit(rho, theta)
			p := SliceParameters{Tau: 1, Theta: theta, Rho: rho, Eta: eta}
			require.True(t, CheckSlice(p).OK(), "rho=%v theta=%v", rho, theta)
		}
	}
	require.InDelta(t, 2.0, etaLimit(0, 0.04), 1e-15)
	require.InDelta(t, 4.0/3, etaLimit(0, 9), 1e-15)
}

func TestDiagnosticString(t *testing.T) {
	require.Equal(t, "ok", Diagnostic{}.String())
	d := CheckSlice(SliceParameters{Tau: 0.5, Theta: 0.04, Rho: 0, Eta: 3})
	require.Contains(t, d.String(), "butterfly_eta_sq_rho at tau=0.5000")
}
