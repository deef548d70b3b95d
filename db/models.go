package db

import (
	"time"

	"gorm.io/gorm"
)

// DBChainSnapshot is one saved option chain.
type DBChainSnapshot struct {
	gorm.Model
	Symbol string    `gorm:"index:idx_symbol_asof"`
	AsOf   time.Time `gorm:"index:idx_symbol_asof"`
	Spot   float64
	Source string
	Quotes []DBOptionQuote `gorm:"foreignKey:SnapshotID"`
}

// DBOptionQuote is one quote of a saved chain. Absent prices are NULL.
type DBOptionQuote struct {
	gorm.Model
	SnapshotID      uint `gorm:"index"`
	Strike          float64
	Expiry          time.Time
	Type            string
	Bid             *float64
	Ask             *float64
	Last            *float64
	UnderlyingPrice float64
}
