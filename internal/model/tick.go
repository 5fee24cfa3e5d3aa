package model

import (
	"math"
	"time"
)

// Tick is a single last-traded-price update from the live feed.
// CumVolume is the session-cumulative traded volume as reported upstream;
// the aggregator derives per-tick deltas from it.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	CumVolume int64     `json:"cum_volume"`
	TS        time.Time `json:"ts"`

	// Bar is the broker's OHLCV for the tick's own interval (running bar) or
	// a finalized prior interval, when the feed provides one. Applied to the
	// matching candle, never as a new candle.
	Bar *Candle `json:"bar,omitempty"`
}

// Valid reports whether the tick carries a usable price and symbol.
func (t *Tick) Valid() bool {
	return t.Symbol != "" && t.Price > 0 && !math.IsNaN(t.Price) && !math.IsInf(t.Price, 0)
}
