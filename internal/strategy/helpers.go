package strategy

import (
	"time"

	"optionscalp/internal/indicator"
	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
)

func last(cs []model.Candle) model.Candle { return cs[len(cs)-1] }

func prev(cs []model.Candle) model.Candle { return cs[len(cs)-2] }

// avgVolume is the mean of the last n volumes, NaN when short.
func avgVolume(cs []model.Candle, n int) float64 {
	return indicator.Mean(model.Volumes(cs), n)
}

func istDate(t time.Time) (int, time.Month, int) {
	return t.In(markethours.IST).Date()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := istDate(a)
	by, bm, bd := istDate(b)
	return ay == by && am == bm && ad == bd
}

// dayOpen returns the open of the first candle on the last candle's IST date.
func dayOpen(cs []model.Candle) float64 {
	lt := last(cs).OpenTime
	open := last(cs).Open
	for i := len(cs) - 1; i >= 0 && sameDay(cs[i].OpenTime, lt); i-- {
		open = cs[i].Open
	}
	return open
}

// prevDayClose returns the close of the latest candle on an earlier IST date.
func prevDayClose(cs []model.Candle) (float64, bool) {
	lt := last(cs).OpenTime
	for i := len(cs) - 1; i >= 0; i-- {
		if !sameDay(cs[i].OpenTime, lt) {
			return cs[i].Close, true
		}
	}
	return 0, false
}

// barsSince counts candles strictly after the unix-second timestamp ts.
func barsSince(cs []model.Candle, ts float64) int {
	n := 0
	for i := len(cs) - 1; i >= 0 && float64(cs[i].OpenTime.Unix()) > ts; i-- {
		n++
	}
	return n
}
