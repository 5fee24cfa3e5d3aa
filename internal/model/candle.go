package model

import "time"

// Candle is an OHLCV bar for one symbol.
// OpenTime is the start of the interval bucket (UTC, interval-aligned).
type Candle struct {
	Symbol   string    `json:"symbol"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
}

// Valid reports whether low <= open,close <= high.
func (c *Candle) Valid() bool {
	return c.Low <= c.Open && c.Open <= c.High &&
		c.Low <= c.Close && c.Close <= c.High
}

// Range returns high - low.
func (c *Candle) Range() float64 { return c.High - c.Low }

// Body returns |close - open|.
func (c *Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Bullish is true for a green candle.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish is true for a red candle.
func (c *Candle) Bearish() bool { return c.Close < c.Open }

// Closes extracts close prices from a candle slice.
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i := range cs {
		out[i] = cs[i].Close
	}
	return out
}

// Volumes extracts volumes from a candle slice as float64.
func Volumes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i := range cs {
		out[i] = float64(cs[i].Volume)
	}
	return out
}
