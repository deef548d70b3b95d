package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/banachtech/volsurface/api"
	"github.com/banachtech/volsurface/data"
	"github.com/banachtech/volsurface/db"
	"github.com/banachtech/volsurface/marketdata"
	"github.com/banachtech/volsurface/service"
	"github.com/banachtech/volsurface/ssvi"
	"github.com/banachtech/volsurface/util"
	"github.com/sirupsen/logrus"
)

const usage = `usage: volsurface <command> [flags]

commands:
  serve       run the HTTP API
  calibrate   fit surfaces for a list of symbols and print them as JSON
  snapshot    store the current chain of each symbol in the sqlite database
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := util.LoadConfig(".env")
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
	logger, err := util.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}

	switch os.Args[1] {
	case "serve":
		err = serve(cfg, logger, os.Args[2:])
	case "calibrate":
		err = calibrate(cfg, logger, os.Args[2:])
	case "snapshot":
		err = snapshot(cfg, logger, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.WithError(err).Fatal(os.Args[1] + " failed")
	}
}

// newProvider opens the configured market-data source. The returned close
// function releases the snapshot database when one was opened.
func newProvider(cfg util.Config, name string, logger *logrus.Logger) (marketdata.Provider, func() error, error) {
	noop := func() error { return nil }
	switch name {
	case "alpaca":
		return marketdata.NewAlpacaProvider(cfg.AlpacaKey, cfg.AlpacaSecret, logger), noop, nil
	case "sqlite":
		store, err := db.NewSnapshotStore(cfg.DBPath, logger)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "synthetic":
		s := marketdata.DefaultSynthetic()
		s.Rate, s.Dividend = cfg.Rate, cfg.Dividend
		return s, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown provider %q", name)
}

func newCalibrator(cfg util.Config, provider marketdata.Provider, logger *logrus.Logger) (*service.Calibrator, error) {
	mode, err := ssvi.ParseRhoMode(cfg.RhoMode)
	if err != nil {
		return nil, err
	}
	sc := service.DefaultConfig()
	sc.Term.RhoMode = mode
	if cfg.Workers > 0 {
		sc.Workers = cfg.Workers
	}
	sc.FitTimeout = cfg.FitTimeout

	calibrator := service.NewCalibrator(provider, marketdata.FlatRates{Rate: cfg.Rate, Dividend: cfg.Dividend}, sc, logger)
	if cfg.CacheSize > 0 {
		calibrator = calibrator.WithCache(service.NewCache(cfg.CacheSize))
	}
	return calibrator, nil
}

func serve(cfg util.Config, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", cfg.Port, "listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	provider, closeProvider, err := newProvider(cfg, cfg.Provider, logger)
	if err != nil {
		return err
	}
	defer closeProvider()

	calibrator, err := newCalibrator(cfg, provider, logger)
	if err != nil {
		return err
	}
	if cfg.APIKeyHash == "" {
		logger.Warn("API_KEY_HASH is not set, the API is open")
	}
	server := api.NewServer(calibrator, cfg.APIKeyHash, logger)

	logger.WithFields(logrus.Fields{"port": *port, "provider": cfg.Provider}).Info("Starting server")
	return server.Start(":" + *port)
}

func calibrate(cfg util.Config, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	symbols := fs.String("symbols", "SPY", "comma separated symbols")
	optionType := fs.String("type", "both", "call, put or both")
	timeout := fs.Duration("timeout", 2*time.Minute, "deadline per symbol")
	if err := fs.Parse(args); err != nil {
		return err
	}
	option, err := data.ParseOptionType(*optionType)
	if err != nil {
		return err
	}

	provider, closeProvider, err := newProvider(cfg, cfg.Provider, logger)
	if err != nil {
		return err
	}
	defer closeProvider()
	calibrator, err := newCalibrator(cfg, provider, logger)
	if err != nil {
		return err
	}

	list := splitSymbols(*symbols)
	bar := util.ProgressBar(len(list), "calibrating", os.Stderr)
	surfaces := make(map[string]*service.Surface, len(list))
	failed := 0
	for _, symbol := range list {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		s, err := calibrator.FitSurface(ctx, symbol, option)
		cancel()
		bar.Add(1)
		if err != nil {
			logger.WithError(err).WithField("symbol", symbol).Error("Calibration failed")
			failed++
			continue
		}
		if s.Warning != "" {
			logger.WithField("symbol", symbol).Warn(s.Warning)
		}
		surfaces[symbol] = s
	}
	bar.Finish()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", " ")
	if err := enc.Encode(surfaces); err != nil {
		return err
	}
	if failed == len(list) {
		return fmt.Errorf("no symbol calibrated")
	}
	return nil
}

func snapshot(cfg util.Config, logger *logrus.Logger, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	symbols := fs.String("symbols", "SPY", "comma separated symbols")
	source := fs.String("source", "alpaca", "provider to snapshot: alpaca or synthetic")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "sqlite" {
		return fmt.Errorf("cannot snapshot the snapshot database")
	}

	provider, _, err := newProvider(cfg, *source, logger)
	if err != nil {
		return err
	}
	store, err := db.NewSnapshotStore(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	list := splitSymbols(*symbols)
	bar := util.ProgressBar(len(list), "saving chains", os.Stderr)
	for _, symbol := range list {
		chain, err := provider.Chain(ctx, symbol)
		if err != nil {
			return err
		}
		id, err := store.SaveChain(ctx, chain, *source)
		if err != nil {
			return err
		}
		bar.Add(1)
		logger.WithFields(logrus.Fields{"symbol": symbol, "id": id, "as_of": chain.AsOf}).Info("Saved chain")
	}
	return bar.Finish()
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
