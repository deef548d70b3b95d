package data

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OptionType selects calls, puts or both sides of a chain.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
	Both OptionType = "both"
)

// ParseOptionType accepts "call"/"c", "put"/"p" and "both" (case-insensitive).
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c", "calls":
		return Call, nil
	case "put", "p", "puts":
		return Put, nil
	case "both", "all", "":
		return Both, nil
	}
	return "", fmt.Errorf("unknown option type %q", s)
}

// OptionQuote is one row of an option chain. Missing prices are nil, never NaN.
type OptionQuote struct {
	Symbol          string     `json:"symbol"`
	Strike          float64    `json:"strike"`
	Expiry          time.Time  `json:"expiry"`
	Type            OptionType `json:"type"`
	Bid             *float64   `json:"bid"`
	Ask             *float64   `json:"ask"`
	Last            *float64   `json:"last"`
	UnderlyingPrice float64    `json:"underlying_price"`
}

// VarianceObservation is an implied total variance point of one expiry.
type VarianceObservation struct {
	Strike float64    `json:"strike"`
	K      float64    `json:"k"`
	W      float64    `json:"w"`
	IV     float64    `json:"iv"`
	Tau    float64    `json:"tau"`
	Weight float64    `json:"weight"`
	Type   OptionType `json:"type"`
	Price  float64    `json:"price"`
}

// DroppedQuote records why a quote did not become an observation.
type DroppedQuote struct {
	Strike float64    `json:"strike"`
	Type   OptionType `json:"type"`
	Reason string     `json:"reason"`
}

// Report summarises one normalisation run.
type Report struct {
	Forward  float64        `json:"forward"`
	Discount float64        `json:"discount"`
	Parity   bool           `json:"parity"`
	Total    int            `json:"total"`
	Filtered int            `json:"filtered"`
	Dropped  []DroppedQuote `json:"dropped"`
}

// Excluded is the number of quotes dropped for bad data.
func (r Report) Excluded() int {
	return len(r.Dropped)
}

// Float returns a pointer to v, handy for building quotes.
func Float(v float64) *float64 {
	return &v
}

var ErrData = errors.New("data error")

// DataError is returned when too few quotes survive normalisation.
type DataError struct {
	Reason   string
	Valid    int
	Required int
}

func (e *DataError) Error() string {
	if e.Required > 0 {
		return fmt.Sprintf("data error: %s (%d valid observations, need %d)", e.Reason, e.Valid, e.Required)
	}
	return "data error: " + e.Reason
}

func (e *DataError) Unwrap() error { return ErrData }
