package model

import "time"

// MarketWindow is a read-only view over the three histories of a session
// at one candle boundary.
type MarketWindow struct {
	At          time.Time
	IndexSymbol string
	CESymbol    string
	PESymbol    string
	Index       []Candle
	CE          []Candle
	PE          []Candle
}

// Leg returns the history and symbol for an option leg.
func (w *MarketWindow) Leg(l Leg) ([]Candle, string) {
	switch l {
	case LegCE:
		return w.CE, w.CESymbol
	case LegPE:
		return w.PE, w.PESymbol
	default:
		return w.Index, w.IndexSymbol
	}
}

// LastClose returns the close of the latest candle, if any.
func LastClose(cs []Candle) (float64, bool) {
	if len(cs) == 0 {
		return 0, false
	}
	return cs[len(cs)-1].Close, true
}
