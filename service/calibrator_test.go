package service

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/banachtech/volsurface/data"
	"github.com/banachtech/volsurface/marketdata"
	mockmd "github.com/banachtech/volsurface/marketdata/mock"
	"github.com/banachtech/volsurface/ssvi"
	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func syntheticCalibrator(t *testing.T) (*Calibrator, *marketdata.Synthetic) {
	syn := marketdata.DefaultSynthetic()
	return NewCalibrator(syn, marketdata.FlatRates{Rate: syn.Rate}, DefaultConfig(), quietLogger()), syn
}

func syntheticChain(t *testing.T) *marketdata.Chain {
	chain, err := marketdata.DefaultSynthetic().Chain(context.Background(), "SYN")
	require.NoError(t, err)
	return chain
}

func TestFitSurfaceSynthetic(t *testing.T) {
	c, syn := syntheticCalibrator(t)

	s, err := c.FitSurface(context.Background(), "SYN", data.Both)
	require.NoError(t, err)
	require.Equal(t, "SYN", s.Symbol)
	require.Len(t, s.Slices, len(syn.Taus))
	require.Empty(t, s.Skipped)

	p := s.Params
	require.InDelta(t, syn.Surface.Rho, p.Rho, 0.1)
	require.InEpsilon(t, syn.Surface.Eta, p.Eta, 0.15)
	taus := make([]float64, len(s.Slices))
	for i, fit := range s.Slices {
		taus[i] = fit.Params.Tau
		require.InEpsilon(t, syn.Surface.Theta(fit.Params.Tau), p.Theta(fit.Params.Tau), 0.05)
		require.Equal(t, fit.Params.Theta, fit.Params.TotalVariance(0))
	}
	require.True(t, ssvi.CheckSurface(p, taus).OK())
	require.InDelta(t, taus[0], p.TauMin, 1e-12)
	require.InDelta(t, taus[len(taus)-1], p.TauMax, 1e-12)
}

func TestFitSurfaceSkipsThinExpiry(t *testing.T) {
	chain := syntheticChain(t)
	thin := chain.Expiries()[1]
	// leave two quotes on the thin expiry
	var calls []data.OptionQuote
	kept := 0
	for _, q := range chain.Calls {
		if q.Expiry.Equal(thin) {
			if kept == 2 {
				continue
			}
			kept++
		}
		calls = append(calls, q)
	}
	chain.Calls = calls

	ctrl := gomock.NewController(t)
	provider := mockmd.NewMockProvider(ctrl)
	provider.EXPECT().Chain(gomock.Any(), gomock.Eq("SYN")).Times(1).Return(chain, nil)
	c := NewCalibrator(provider, marketdata.FlatRates{Rate: 0.03}, DefaultConfig(), quietLogger())

	s, err := c.FitSurface(context.Background(), "SYN", data.Call)
	require.NoError(t, err)
	require.Len(t, s.Slices, len(chain.Expiries())-1)
	require.Len(t, s.Skipped, 1)
	require.True(t, thin.Equal(s.Skipped[0].Expiry))
	require.Contains(t, s.Skipped[0].Reason, "too few valid quotes")
}

func TestFitSurfaceDegenerate(t *testing.T) {
	chain := syntheticChain(t)
	first := chain.Expiries()[0]
	chain.Calls = chain.ForExpiry(first, data.Call)
	chain.Puts = chain.ForExpiry(first, data.Put)

	ctrl := gomock.NewController(t)
	provider := mockmd.NewMockProvider(ctrl)
	provider.EXPECT().Chain(gomock.Any(), gomock.Any()).Times(1).Return(chain, nil)
	c := NewCalibrator(provider, marketdata.FlatRates{}, DefaultConfig(), quietLogger())

	_, err := c.FitSurface(context.Background(), "SYN", data.Both)
	require.ErrorIs(t, err, ssvi.ErrDegenerateSurface)
}

func TestFitSurfaceProviderError(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mockmd.NewMockProvider(ctrl)
	upstream := &marketdata.ProviderError{Source: "test", Symbol: "X", Err: errors.New("timeout")}
	provider.EXPECT().Chain(gomock.Any(), gomock.Eq("X")).Times(1).Return(nil, upstream)
	c := NewCalibrator(provider, marketdata.FlatRates{}, DefaultConfig(), quietLogger())

	_, err := c.FitSurface(context.Background(), "X", data.Both)
	require.ErrorIs(t, err, marketdata.ErrProvider)
}

func TestFitSurfaceCached(t *testing.T) {
	chain := syntheticChain(t)
	ctrl := gomock.NewController(t)
	provider := mockmd.NewMockProvider(ctrl)
	provider.EXPECT().Chain(gomock.Any(), gomock.Eq("SYN")).Times(2).Return(chain, nil)
	cache := NewCache(4)
	c := NewCalibrator(provider, marketdata.FlatRates{Rate: 0.03}, DefaultConfig(), quietLogger()).WithCache(cache)

	first, err := c.FitSurface(context.Background(), "SYN", data.Both)
	require.NoError(t, err)
	second, err := c.FitSurface(context.Background(), "SYN", data.Both)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, cache.Len())
}

// gatedRates blocks until released or until the fit context ends.
type gatedRates struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedRates) Rates(ctx context.Context, _ string, _ float64) (float64, float64, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case <-g.release:
		return 0.03, 0, nil
	}
}

func TestFitSurfaceCachedSurvivesCancelledRequest(t *testing.T) {
	rates := &gatedRates{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCalibrator(marketdata.DefaultSynthetic(), rates, DefaultConfig(), quietLogger()).WithCache(NewCache(4))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.FitSurface(ctx, "SYN", data.Both)
		first <- err
	}()
	<-rates.started

	type result struct {
		s   *Surface
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := c.FitSurface(context.Background(), "SYN", data.Both)
		second <- result{s, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	close(rates.release)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, "SYN", got.s.Symbol)
	require.NotEmpty(t, got.s.Slices)
}

func TestFitSlice(t *testing.T) {
	c, syn := syntheticCalibrator(t)

	fit, err := c.FitSlice(context.Background(), "SYN", 0.3, data.Both)
	require.NoError(t, err)
	require.InDelta(t, 0.25, fit.Params.Tau, 1e-3)
	require.False(t, fit.Params.Degraded)
	require.Empty(t, fit.Warning)
	require.True(t, fit.Report.Parity)
	require.Len(t, fit.Observations, len(syn.Strikes))
	require.InDelta(t, syn.Surface.Rho, fit.Params.Rho, 0.1)
	require.InEpsilon(t, syn.Surface.Theta(fit.Params.Tau), fit.Params.Theta, 0.05)
}

func TestFitSliceNoExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := mockmd.NewMockProvider(ctrl)
	provider.EXPECT().Chain(gomock.Any(), gomock.Any()).Times(1).Return(&marketdata.Chain{Symbol: "E", Spot: 10}, nil)
	c := NewCalibrator(provider, marketdata.FlatRates{}, DefaultConfig(), quietLogger())

	_, err := c.FitSlice(context.Background(), "E", 0.5, data.Call)
	require.ErrorIs(t, err, ErrExpiryNotFound)
}

func TestListSliceObservations(t *testing.T) {
	c, _ := syntheticCalibrator(t)

	out, err := c.ListSliceObservations(context.Background(), "SYN", 1, data.Both)
	require.NoError(t, err)
	n := len(out.K)
	require.NotZero(t, n)
	for _, col := range [][]float64{out.Strike, out.SigmaMarket, out.SigmaModel, out.WMarket, out.WModel, out.PriceMarket, out.PriceModel} {
		require.Len(t, col, n)
	}
	for i := 0; i < n; i++ {
		require.InDelta(t, out.SigmaMarket[i], out.SigmaModel[i], 0.01)
		require.InDelta(t, out.WModel[i], out.Params.TotalVariance(out.K[i]), 1e-15)
		require.InDelta(t, out.SigmaModel[i], math.Sqrt(out.WModel[i]/out.Tau), 1e-12)
		require.Greater(t, out.PriceModel[i], 0.0)
	}
}

func TestThetaCurve(t *testing.T) {
	c, syn := syntheticCalibrator(t)

	curve, err := c.ThetaCurve(context.Background(), "SYN", data.Both)
	require.NoError(t, err)
	require.Len(t, curve.Observed, len(syn.Taus))
	require.Len(t, curve.Fitted, thetaCurvePoints+1)
	require.Equal(t, 0.0, curve.Fitted[0].Theta)
	for i := 1; i < len(curve.Fitted); i++ {
		require.GreaterOrEqual(t, curve.Fitted[i].Theta, curve.Fitted[i-1].Theta)
	}
}

func TestEvaluate(t *testing.T) {
	c, _ := syntheticCalibrator(t)
	params := ssvi.SurfaceParameters{A: 0.03, B: 0.02, C: 3, Rho: -0.6, Eta: 1.2, TauMin: 0.1, TauMax: 2}
	ks := LogMoneynessGrid(-0.5, 0.5, 11)

	e := c.Evaluate(params, ks, 0.5)
	require.Len(t, e.W, 11)
	require.False(t, e.Extrapolated)
	require.Equal(t, params.Theta(0.5), e.W[5])
	require.Equal(t, e, c.Evaluate(params, ks, 0.5))
}

func TestLogMoneynessGrid(t *testing.T) {
	ks := LogMoneynessGrid(-1, 1, 5)
	require.Equal(t, []float64{-1, -0.5, 0, 0.5, 1}, ks)
	require.Equal(t, []float64{0.2}, LogMoneynessGrid(0.2, 1, 1))
}
