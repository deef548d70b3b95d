package marketdata

import (
	"context"
	"sort"
	"time"

	alpaca "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/banachtech/volsurface/data"
	"github.com/sirupsen/logrus"
)

// alpacaClient is the part of the Alpaca market-data client the provider uses.
type alpacaClient interface {
	GetLatestTrade(symbol string, req alpaca.GetLatestTradeRequest) (*alpaca.Trade, error)
	GetOptionChain(underlyingSymbol string, req alpaca.GetOptionChainRequest) (map[string]alpaca.OptionSnapshot, error)
}

// AlpacaProvider loads option chains from the Alpaca options snapshot API.
type AlpacaProvider struct {
	client alpacaClient
	logger *logrus.Logger
	now    func() time.Time
}

func NewAlpacaProvider(apiKey, apiSecret string, logger *logrus.Logger) *AlpacaProvider {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	return newAlpacaProvider(client, logger)
}

func newAlpacaProvider(client alpacaClient, logger *logrus.Logger) *AlpacaProvider {
	return &AlpacaProvider{client: client, logger: logger, now: time.Now}
}

func (p *AlpacaProvider) Chain(ctx context.Context, symbol string) (*Chain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trade, err := p.client.GetLatestTrade(symbol, alpaca.GetLatestTradeRequest{})
	if err != nil {
		return nil, &ProviderError{Source: "alpaca", Symbol: symbol, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshots, err := p.client.GetOptionChain(symbol, alpaca.GetOptionChainRequest{})
	if err != nil {
		return nil, &ProviderError{Source: "alpaca", Symbol: symbol, Err: err}
	}

	chain := &Chain{Symbol: symbol, Spot: trade.Price, AsOf: trade.Timestamp}
	skipped := 0
	for occ, snap := range snapshots {
		contract, err := ParseOCC(occ)
		if err != nil {
			skipped++
			continue
		}
		q := data.OptionQuote{
			Symbol:          symbol,
			Strike:          contract.Strike,
			Expiry:          contract.Expiry,
			Type:            contract.Type,
			UnderlyingPrice: trade.Price,
		}
		if lq := snap.LatestQuote; lq != nil {
			if lq.BidPrice > 0 {
				q.Bid = data.Float(lq.BidPrice)
			}
			if lq.AskPrice > 0 {
				q.Ask = data.Float(lq.AskPrice)
			}
			if lq.Timestamp.After(chain.AsOf) {
				chain.AsOf = lq.Timestamp
			}
		}
		if lt := snap.LatestTrade; lt != nil && lt.Price > 0 {
			q.Last = data.Float(lt.Price)
		}
		if contract.Type == data.Call {
			chain.Calls = append(chain.Calls, q)
		} else {
			chain.Puts = append(chain.Puts, q)
		}
	}
	if chain.AsOf.IsZero() {
		chain.AsOf = p.now()
	}
	chain.AsOf = chain.AsOf.UTC()
	chain.Version = chain.AsOf.Format(time.RFC3339Nano)
	sortQuotes(chain.Calls)
	sortQuotes(chain.Puts)

	p.logger.WithFields(logrus.Fields{
		"symbol":  symbol,
		"spot":    chain.Spot,
		"calls":   len(chain.Calls),
		"puts":    len(chain.Puts),
		"skipped": skipped,
	}).Debug("Fetched option chain")
	return chain, nil
}

func sortQuotes(qs []data.OptionQuote) {
	sort.Slice(qs, func(i, j int) bool {
		if !qs[i].Expiry.Equal(qs[j].Expiry) {
			return qs[i].Expiry.Before(qs[j].Expiry)
		}
		return qs[i].Strike < qs[j].Strike
	})
}
