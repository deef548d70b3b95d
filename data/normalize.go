package data

import (
	"errors"
	"math"
	"sort"
)

// Options tune the quote normaliser.
type Options struct {
	RootFinder      RootFinder
	SpreadFloor     float64 // relative spread floor, caps the weight of tight quotes
	LastWeight      float64 // weight of quotes priced from last trade or a single side
	MinObservations int
}

func DefaultOptions() Options {
	return Options{
		RootFinder:      DefaultRootFinder(),
		SpreadFloor:     0.01,
		LastWeight:      1.0,
		MinObservations: 3,
	}
}

// NormalizeInput carries the expiry and rate inputs of one slice.
type NormalizeInput struct {
	Tau      float64
	Rate     float64
	Dividend float64
	Spot     float64 // falls back to the quotes' underlying price when zero
}

// Normalize turns the quotes of one expiry into total variance observations.
// Bad quotes are dropped and recorded in the report; a DataError is returned
// only when fewer than opts.MinObservations observations survive.
func Normalize(quotes []OptionQuote, in NormalizeInput, opts Options) ([]VarianceObservation, Report, error) {
	report := Report{Total: len(quotes)}
	if in.Tau <= 0 || math.IsNaN(in.Tau) {
		return nil, report, &DataError{Reason: "non-positive time to expiry"}
	}
	if opts.RootFinder == nil {
		opts.RootFinder = DefaultRootFinder()
	}

	df := math.Exp(-in.Rate * in.Tau)
	report.Discount = df

	type priced struct {
		q      OptionQuote
		price  float64
		weight float64
	}
	var rows []priced
	for _, q := range quotes {
		if q.Strike <= 0 || math.IsNaN(q.Strike) {
			report.Dropped = append(report.Dropped, DroppedQuote{Strike: q.Strike, Type: q.Type, Reason: "invalid strike"})
			continue
		}
		p, w, ok := quotePrice(q, opts)
		if !ok {
			report.Dropped = append(report.Dropped, DroppedQuote{Strike: q.Strike, Type: q.Type, Reason: "missing price"})
			continue
		}
		rows = append(rows, priced{q: q, price: p, weight: w})
	}

	fwd, parity := parityForward(quotes, opts, df)
	if !parity {
		spot := in.Spot
		if spot <= 0 {
			for _, q := range quotes {
				if q.UnderlyingPrice > 0 {
					spot = q.UnderlyingPrice
					break
				}
			}
		}
		if spot <= 0 {
			return nil, report, &DataError{Reason: "no underlying price"}
		}
		fwd = spot * math.Exp((in.Rate-in.Dividend)*in.Tau)
	}
	report.Forward = fwd
	report.Parity = parity

	mixed := hasBothTypes(quotes)
	var obs []VarianceObservation
	for _, r := range rows {
		// with both sides available only out-of-the-money quotes are used
		if mixed && ((r.q.Type == Call && r.q.Strike < fwd) || (r.q.Type == Put && r.q.Strike >= fwd)) {
			report.Filtered++
			continue
		}
		iv, err := ImpliedVol(r.price, fwd, r.q.Strike, in.Tau, df, r.q.Type, opts.RootFinder)
		if err != nil {
			report.Dropped = append(report.Dropped, DroppedQuote{Strike: r.q.Strike, Type: r.q.Type, Reason: dropReason(err)})
			continue
		}
		obs = append(obs, VarianceObservation{
			Strike: r.q.Strike,
			K:      math.Log(r.q.Strike / fwd),
			W:      iv * iv * in.Tau,
			IV:     iv,
			Tau:    in.Tau,
			Weight: r.weight,
			Type:   r.q.Type,
			Price:  r.price,
		})
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].K < obs[j].K })

	if len(obs) < opts.MinObservations {
		return obs, report, &DataError{Reason: "too few valid quotes", Valid: len(obs), Required: opts.MinObservations}
	}
	return obs, report, nil
}

// quotePrice picks the mid when both sides are present, otherwise the last
// trade or the single available side with a penalty weight.
func quotePrice(q OptionQuote, opts Options) (float64, float64, bool) {
	if q.Bid != nil && q.Ask != nil && *q.Ask >= *q.Bid && *q.Bid >= 0 {
		mid := 0.5 * (*q.Bid + *q.Ask)
		if mid > 0 {
			spread := (*q.Ask - *q.Bid) / mid
			return mid, 1.0 / math.Max(spread, opts.SpreadFloor), true
		}
	}
	if q.Last != nil && *q.Last > 0 {
		return *q.Last, opts.LastWeight, true
	}
	for _, side := range []*float64{q.Bid, q.Ask} {
		if side != nil && *side > 0 {
			return *side, opts.LastWeight, true
		}
	}
	return 0, 0, false
}

func hasBothTypes(quotes []OptionQuote) bool {
	var calls, puts bool
	for _, q := range quotes {
		switch q.Type {
		case Call:
			calls = true
		case Put:
			puts = true
		}
	}
	return calls && puts
}

// parityForward implies the forward from the strike where call and put
// prices are closest.
func parityForward(quotes []OptionQuote, opts Options, df float64) (float64, bool) {
	calls := map[float64]float64{}
	puts := map[float64]float64{}
	for _, q := range quotes {
		if q.Strike <= 0 {
			continue
		}
		p, _, ok := quotePrice(q, opts)
		if !ok {
			continue
		}
		switch q.Type {
		case Call:
			calls[q.Strike] = p
		case Put:
			puts[q.Strike] = p
		}
	}
	best, bestK, fwd := math.Inf(1), 0.0, 0.0
	for k, c := range calls {
		p, ok := puts[k]
		if !ok {
			continue
		}
		// ties go to the lower strike so the result is deterministic
		if d := math.Abs(c - p); d < best || (d == best && k < bestK) {
			best, bestK = d, k
			fwd = k + (c-p)/df
		}
	}
	if math.IsInf(best, 1) || fwd <= 0 {
		return 0, false
	}
	return fwd, true
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrBelowIntrinsic):
		return "below intrinsic"
	case errors.Is(err, ErrAboveBound):
		return "above upper bound"
	case errors.Is(err, ErrNoBracket), errors.Is(err, ErrNoConvergence):
		return "implied vol did not converge"
	}
	return err.Error()
}
