package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banachtech/volsurface/data"
	"github.com/banachtech/volsurface/marketdata"
	"github.com/banachtech/volsurface/ssvi"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrExpiryNotFound = errors.New("no expiry listed")

type Config struct {
	Slice     ssvi.SliceConfig
	Term      ssvi.TermConfig
	Normalize data.Options
	Workers   int
	MinTau    float64 // expiries closer than this are skipped

	// FitTimeout bounds a shared cached fit, which outlives the request
	// that started it. Zero means no limit.
	FitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Slice:     ssvi.DefaultSliceConfig(),
		Term:      ssvi.DefaultTermConfig(),
		Normalize: data.DefaultOptions(),
		Workers:   4,
		MinTau:    1.0 / 365,

		FitTimeout: 2 * time.Minute,
	}
}

// Calibrator runs request-scoped calibrations against a market-data provider.
type Calibrator struct {
	provider marketdata.Provider
	rates    marketdata.RateSource
	cfg      Config
	logger   *logrus.Logger
	cache    *Cache
}

func NewCalibrator(provider marketdata.Provider, rates marketdata.RateSource, cfg Config, logger *logrus.Logger) *Calibrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Calibrator{provider: provider, rates: rates, cfg: cfg, logger: logger}
}

// WithCache enables surface caching.
func (c *Calibrator) WithCache(cache *Cache) *Calibrator {
	c.cache = cache
	return c
}

// ChainQuotes is the raw chain of one option type.
type ChainQuotes struct {
	Symbol  string             `json:"symbol"`
	Spot    float64            `json:"spot"`
	AsOf    time.Time          `json:"as_of"`
	Version string             `json:"version"`
	Quotes  []data.OptionQuote `json:"quotes"`
}

// SliceFit is the calibrated smile of one expiry with its inputs.
type SliceFit struct {
	Expiry       time.Time                  `json:"expiry"`
	Params       ssvi.SliceParameters       `json:"params"`
	Observations []data.VarianceObservation `json:"observations"`
	Report       data.Report                `json:"report"`
	Warning      string                     `json:"warning,omitempty"`
}

// SkippedSlice is an expiry left out of a surface fit.
type SkippedSlice struct {
	Expiry time.Time `json:"expiry"`
	Tau    float64   `json:"tau"`
	Reason string    `json:"reason"`
}

// Surface is a calibrated SSVI surface with the slices it was built from.
type Surface struct {
	Symbol  string                 `json:"symbol"`
	Type    data.OptionType        `json:"type"`
	AsOf    time.Time              `json:"as_of"`
	Version string                 `json:"version"`
	Params  ssvi.SurfaceParameters `json:"params"`
	Slices  []SliceFit             `json:"slices"`
	Skipped []SkippedSlice         `json:"skipped"`
	Warning string                 `json:"warning,omitempty"`
}

func (c *Calibrator) Chain(ctx context.Context, symbol string, option data.OptionType) (ChainQuotes, error) {
	chain, err := c.provider.Chain(ctx, symbol)
	if err != nil {
		return ChainQuotes{}, err
	}
	return ChainQuotes{
		Symbol:  chain.Symbol,
		Spot:    chain.Spot,
		AsOf:    chain.AsOf,
		Version: chain.Version,
		Quotes:  chain.Quotes(option),
	}, nil
}

// FitSlice calibrates the listed expiry nearest to tau. A degraded fit is
// returned without error, flagged in Params.Degraded and Warning.
func (c *Calibrator) FitSlice(ctx context.Context, symbol string, tau float64, option data.OptionType) (SliceFit, error) {
	chain, err := c.provider.Chain(ctx, symbol)
	if err != nil {
		return SliceFit{}, err
	}
	expiry, ok := chain.NearestExpiry(tau)
	if !ok {
		return SliceFit{}, fmt.Errorf("%s: %w", symbol, ErrExpiryNotFound)
	}
	return c.fitExpiry(ctx, chain, expiry, option)
}

func (c *Calibrator) fitExpiry(ctx context.Context, chain *marketdata.Chain, expiry time.Time, option data.OptionType) (SliceFit, error) {
	tau := chain.Tau(expiry)
	fit := SliceFit{Expiry: expiry}
	rate, dividend, err := c.rates.Rates(ctx, chain.Symbol, tau)
	if err != nil {
		return fit, fmt.Errorf("rates for %s: %w", chain.Symbol, err)
	}
	obs, report, err := data.Normalize(chain.ForExpiry(expiry, option), data.NormalizeInput{
		Tau:      tau,
		Rate:     rate,
		Dividend: dividend,
		Spot:     chain.Spot,
	}, c.cfg.Normalize)
	fit.Observations, fit.Report = obs, report
	if err != nil {
		return fit, fmt.Errorf("expiry %s: %w", expiry.Format("2006-01-02"), err)
	}

	params, err := ssvi.FitSlice(obs, c.cfg.Slice)
	fit.Params = params
	log := c.logger.WithFields(logrus.Fields{
		"symbol":   chain.Symbol,
		"expiry":   expiry.Format("2006-01-02"),
		"tau":      tau,
		"quotes":   report.Total,
		"excluded": report.Excluded(),
	})
	switch {
	case err == nil:
		log.WithFields(logrus.Fields{"theta": params.Theta, "rho": params.Rho, "eta": params.Eta, "rmse": params.RMSE}).Debug("Fitted slice")
	case ssvi.IsDegraded(err):
		fit.Warning = err.Error()
		log.WithField("rmse", params.RMSE).Warn("Slice fit degraded")
	default:
		log.WithError(err).Warn("Slice fit failed")
		return fit, err
	}
	return fit, nil
}

// FitSurface calibrates every usable expiry in parallel and fits the term
// structure through them. Expiries without enough data or rejected by the
// guard are reported in Skipped.
func (c *Calibrator) FitSurface(ctx context.Context, symbol string, option data.OptionType) (*Surface, error) {
	chain, err := c.provider.Chain(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if c.cache == nil {
		return c.fitSurface(ctx, chain, option)
	}
	return c.cache.Do(ctx, cacheKey(symbol, string(option), chain.Version), func(fitCtx context.Context) (*Surface, error) {
		if c.cfg.FitTimeout > 0 {
			var cancel context.CancelFunc
			fitCtx, cancel = context.WithTimeout(fitCtx, c.cfg.FitTimeout)
			defer cancel()
		}
		return c.fitSurface(fitCtx, chain, option)
	})
}

func (c *Calibrator) fitSurface(ctx context.Context, chain *marketdata.Chain, option data.OptionType) (*Surface, error) {
	start := time.Now()
	surface := &Surface{Symbol: chain.Symbol, Type: option, AsOf: chain.AsOf, Version: chain.Version}

	var expiries []time.Time
	for _, e := range chain.Expiries() {
		if tau := chain.Tau(e); tau < c.cfg.MinTau {
			surface.Skipped = append(surface.Skipped, SkippedSlice{Expiry: e, Tau: tau, Reason: "expiry too close"})
			continue
		}
		expiries = append(expiries, e)
	}

	fits := make([]SliceFit, len(expiries))
	errs := make([]error, len(expiries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i, e := range expiries {
		i, e := i, e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fit, err := c.fitExpiry(gctx, chain, e, option)
			if err != nil && !skippable(err) {
				return err
			}
			fits[i], errs[i] = fit, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var params []ssvi.SliceParameters
	for i, fit := range fits {
		if errs[i] != nil {
			surface.Skipped = append(surface.Skipped, SkippedSlice{Expiry: expiries[i], Tau: chain.Tau(expiries[i]), Reason: errs[i].Error()})
			continue
		}
		surface.Slices = append(surface.Slices, fit)
		params = append(params, fit.Params)
	}
	sort.Slice(surface.Skipped, func(i, j int) bool { return surface.Skipped[i].Expiry.Before(surface.Skipped[j].Expiry) })

	sp, err := ssvi.FitTermStructure(params, c.cfg.Term)
	switch {
	case err == nil:
	case ssvi.IsDegraded(err):
		surface.Warning = err.Error()
	default:
		return nil, err
	}
	surface.Params = sp

	c.logger.WithFields(logrus.Fields{
		"symbol":   chain.Symbol,
		"type":     option,
		"slices":   len(surface.Slices),
		"skipped":  len(surface.Skipped),
		"degraded": sp.Degraded,
		"elapsed":  time.Since(start).String(),
	}).Info("Fitted surface")
	return surface, nil
}

// skippable errors drop one expiry from a surface without failing it.
func skippable(err error) bool {
	return errors.Is(err, data.ErrData) ||
		errors.Is(err, ssvi.ErrInsufficientData) ||
		errors.Is(err, ssvi.ErrCalibrationInvalid)
}

// Evaluate evaluates fitted surface parameters on a log-moneyness grid.
func (c *Calibrator) Evaluate(params ssvi.SurfaceParameters, ks []float64, tau float64) ssvi.Evaluation {
	return ssvi.EvaluateSurface(params, ks, tau)
}

// SliceObservations compares market and model quantities strike by strike.
type SliceObservations struct {
	Expiry      time.Time            `json:"expiry"`
	Tau         float64              `json:"tau"`
	Params      ssvi.SliceParameters `json:"params"`
	Strike      []float64            `json:"K"`
	K           []float64            `json:"k"`
	SigmaMarket []float64            `json:"sigma_market"`
	SigmaModel  []float64            `json:"sigma_model"`
	WMarket     []float64            `json:"w_market"`
	WModel      []float64            `json:"w_model"`
	PriceMarket []float64            `json:"price_market"`
	PriceModel  []float64            `json:"price_model"`
	Warning     string               `json:"warning,omitempty"`
}

func (c *Calibrator) ListSliceObservations(ctx context.Context, symbol string, tau float64, option data.OptionType) (SliceObservations, error) {
	fit, err := c.FitSlice(ctx, symbol, tau, option)
	if err != nil {
		return SliceObservations{}, err
	}
	p := fit.Params
	out := SliceObservations{Expiry: fit.Expiry, Tau: p.Tau, Params: p, Warning: fit.Warning}
	ks := make([]float64, len(fit.Observations))
	for i, o := range fit.Observations {
		ks[i] = o.K
	}
	model := ssvi.EvaluateSlice(p, ks)
	f, df := fit.Report.Forward, fit.Report.Discount
	for i, o := range fit.Observations {
		out.Strike = append(out.Strike, o.Strike)
		out.K = append(out.K, o.K)
		out.SigmaMarket = append(out.SigmaMarket, o.IV)
		out.SigmaModel = append(out.SigmaModel, model.Sigma[i])
		out.WMarket = append(out.WMarket, o.W)
		out.WModel = append(out.WModel, model.W[i])
		out.PriceMarket = append(out.PriceMarket, o.Price)
		out.PriceModel = append(out.PriceModel, data.BlackPrice(f, o.Strike, o.Tau, model.Sigma[i], df, o.Type))
	}
	return out, nil
}

// ThetaPoint is the fitted ATM variance of one slice.
type ThetaPoint struct {
	Tau   float64 `json:"tau"`
	Theta float64 `json:"theta"`
}

// ThetaCurve is the ATM term structure: slice thetas and the fitted curve.
type ThetaCurve struct {
	A        float64      `json:"a"`
	B        float64      `json:"b"`
	C        float64      `json:"c"`
	Observed []ThetaPoint `json:"observed"`
	Fitted   []ThetaPoint `json:"fitted"`
	Degraded bool         `json:"degraded"`
}

const thetaCurvePoints = 50

func (c *Calibrator) ThetaCurve(ctx context.Context, symbol string, option data.OptionType) (ThetaCurve, error) {
	s, err := c.FitSurface(ctx, symbol, option)
	if err != nil {
		return ThetaCurve{}, err
	}
	p := s.Params
	curve := ThetaCurve{A: p.A, B: p.B, C: p.C, Degraded: p.Degraded}
	for _, fit := range s.Slices {
		curve.Observed = append(curve.Observed, ThetaPoint{Tau: fit.Params.Tau, Theta: fit.Params.Theta})
	}
	for i := 0; i <= thetaCurvePoints; i++ {
		tau := p.TauMax * float64(i) / thetaCurvePoints
		curve.Fitted = append(curve.Fitted, ThetaPoint{Tau: tau, Theta: p.Theta(tau)})
	}
	return curve, nil
}

// LogMoneynessGrid returns n points evenly spaced on [lo, hi].
func LogMoneynessGrid(lo, hi float64, n int) []float64 {
	if n < 2 {
		return []float64{lo}
	}
	ks := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range ks {
		ks[i] = lo + step*float64(i)
	}
	ks[n-1] = hi
	return ks
}
