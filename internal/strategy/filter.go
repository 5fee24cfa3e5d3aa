package strategy

import (
	"strings"

	"optionscalp/internal/indicator"
	"optionscalp/internal/model"
)

// PassesEMAFilter is the option-leg momentum gate: close above EMA9 or
// EMA14, and EMA9 rising or above EMA14. Needs 15 candles.
func PassesEMAFilter(cs []model.Candle) bool {
	if len(cs) < 15 {
		return false
	}
	closes := model.Closes(cs)
	ema9 := indicator.EMASeries(closes, 9)
	ema14 := indicator.EMASeries(closes, 14)
	e9, e14 := indicator.Last(ema9), indicator.Last(ema14)
	if !indicator.Valid(e9) || !indicator.Valid(e14) {
		return false
	}
	p9 := indicator.Prev(ema9)
	if !indicator.Valid(p9) {
		p9 = e9
	}
	c := closes[len(closes)-1]
	return (c > e9 || c > e14) && (e9 > p9 || e9 > e14)
}

// Trend is the index bias used by trend following.
type Trend int

const (
	TrendNone Trend = iota
	TrendBullish
	TrendBearish
)

func (t Trend) String() string {
	switch t {
	case TrendBullish:
		return "BULLISH"
	case TrendBearish:
		return "BEARISH"
	}
	return "NONE"
}

// IndexTrend compares the last index close with SMA20.
func IndexTrend(index []model.Candle) Trend {
	ma := indicator.Last(indicator.SMASeries(model.Closes(index), 20))
	if !indicator.Valid(ma) {
		return TrendNone
	}
	if index[len(index)-1].Close > ma {
		return TrendBullish
	}
	return TrendBearish
}

// PullbackBand returns the accepted candle range for a trend pullback on
// the option chart of the given index.
func PullbackBand(indexSymbol string) (lo, hi float64) {
	if strings.Contains(strings.ToUpper(indexSymbol), "BANKNIFTY") {
		return 30, 45
	}
	return 15, 25
}

// IsPullback reports whether c is a small, full-bodied bearish candle
// within [lo, hi].
func IsPullback(c model.Candle, lo, hi float64) bool {
	r := c.Range()
	return c.Bearish() && r >= lo && r <= hi && c.Body() >= 0.7*r
}
