package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banachtech/volsurface/data"
	"github.com/banachtech/volsurface/marketdata"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotInfo describes a saved chain without its quotes.
type SnapshotInfo struct {
	ID     uint      `json:"id"`
	Symbol string    `json:"symbol"`
	AsOf   time.Time `json:"as_of"`
	Spot   float64   `json:"spot"`
	Source string    `json:"source"`
}

// SnapshotStore keeps option chains in SQLite and serves the latest one as
// a marketdata.Provider, so calibrations can be replayed offline.
type SnapshotStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewSnapshotStore(dbPath string, log *logrus.Logger) (*SnapshotStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&DBChainSnapshot{}, &DBOptionQuote{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SnapshotStore{db: db, logger: log}, nil
}

// SaveChain stores chain with its quotes and returns the snapshot id.
func (s *SnapshotStore) SaveChain(ctx context.Context, chain *marketdata.Chain, source string) (uint, error) {
	snap := DBChainSnapshot{
		Symbol: chain.Symbol,
		AsOf:   chain.AsOf.UTC(),
		Spot:   chain.Spot,
		Source: source,
	}
	for _, q := range chain.Quotes(data.Both) {
		snap.Quotes = append(snap.Quotes, DBOptionQuote{
			Strike:          q.Strike,
			Expiry:          q.Expiry.UTC(),
			Type:            string(q.Type),
			Bid:             q.Bid,
			Ask:             q.Ask,
			Last:            q.Last,
			UnderlyingPrice: q.UnderlyingPrice,
		})
	}
	if err := s.db.WithContext(ctx).Create(&snap).Error; err != nil {
		return 0, fmt.Errorf("failed to save chain: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"symbol":   chain.Symbol,
		"snapshot": snap.ID,
		"quotes":   len(snap.Quotes),
	}).Info("Saved option chain")
	return snap.ID, nil
}

// Chain returns the most recent snapshot of symbol.
func (s *SnapshotStore) Chain(ctx context.Context, symbol string) (*marketdata.Chain, error) {
	var snap DBChainSnapshot
	err := s.db.WithContext(ctx).
		Preload("Quotes", func(tx *gorm.DB) *gorm.DB { return tx.Order("expiry ASC, strike ASC") }).
		Where("symbol = ?", symbol).
		Order("as_of DESC, id DESC").
		First(&snap).Error
	return s.toChain(symbol, snap, err)
}

// ChainVersion returns one snapshot by id.
func (s *SnapshotStore) ChainVersion(ctx context.Context, symbol string, id uint) (*marketdata.Chain, error) {
	var snap DBChainSnapshot
	err := s.db.WithContext(ctx).
		Preload("Quotes", func(tx *gorm.DB) *gorm.DB { return tx.Order("expiry ASC, strike ASC") }).
		Where("symbol = ? AND id = ?", symbol, id).
		First(&snap).Error
	return s.toChain(symbol, snap, err)
}

// Snapshots lists the saved chains of symbol, newest first.
func (s *SnapshotStore) Snapshots(ctx context.Context, symbol string) ([]SnapshotInfo, error) {
	var snaps []DBChainSnapshot
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("as_of DESC, id DESC").Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	out := make([]SnapshotInfo, len(snaps))
	for i, snap := range snaps {
		out[i] = SnapshotInfo{ID: snap.ID, Symbol: snap.Symbol, AsOf: snap.AsOf, Spot: snap.Spot, Source: snap.Source}
	}
	return out, nil
}

func (s *SnapshotStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SnapshotStore) toChain(symbol string, snap DBChainSnapshot, err error) (*marketdata.Chain, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &marketdata.ProviderError{Source: "sqlite", Symbol: symbol, Err: ErrSnapshotNotFound}
	}
	if err != nil {
		return nil, &marketdata.ProviderError{Source: "sqlite", Symbol: symbol, Err: err}
	}
	chain := &marketdata.Chain{
		Symbol:  snap.Symbol,
		Spot:    snap.Spot,
		AsOf:    snap.AsOf.UTC(),
		Version: fmt.Sprintf("snapshot-%d", snap.ID),
	}
	for _, q := range snap.Quotes {
		quote := data.OptionQuote{
			Symbol:          snap.Symbol,
			Strike:          q.Strike,
			Expiry:          q.Expiry.UTC(),
			Type:            data.OptionType(q.Type),
			Bid:             q.Bid,
			Ask:             q.Ask,
			Last:            q.Last,
			UnderlyingPrice: q.UnderlyingPrice,
		}
		if quote.Type == data.Put {
			chain.Puts = append(chain.Puts, quote)
		} else {
			chain.Calls = append(chain.Calls, quote)
		}
	}
	return chain, nil
}
