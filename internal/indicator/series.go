package indicator

import (
	"math"

	"optionscalp/internal/model"
)

var nan = math.NaN()

// Valid reports whether v is a computed (non-NaN) series value.
func Valid(v float64) bool { return !math.IsNaN(v) }

// Last returns the last element of a series, or NaN when empty.
func Last(s []float64) float64 {
	if len(s) == 0 {
		return nan
	}
	return s[len(s)-1]
}

// Prev returns the element before the last, or NaN.
func Prev(s []float64) float64 {
	if len(s) < 2 {
		return nan
	}
	return s[len(s)-2]
}

// SMASeries returns the rolling simple mean.
func SMASeries(prices []float64, period int) []float64 {
	return Run(NewSMA(period), prices)
}

// EMASeries returns the SMA-seeded exponential moving average.
func EMASeries(prices []float64, period int) []float64 {
	return Run(NewEMA(period), prices)
}

// RSISeries returns Wilder's RSI.
func RSISeries(prices []float64, period int) []float64 {
	return Run(NewRSI(period), prices)
}

// TrueRange returns the true range per candle; the first uses high-low.
func TrueRange(cs []model.Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		tr := c.High - c.Low
		if i > 0 {
			pc := cs[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-pc), math.Abs(c.Low-pc)))
		}
		out[i] = tr
	}
	return out
}

// ATRSeries returns the Wilder-smoothed average true range.
func ATRSeries(cs []model.Candle, period int) []float64 {
	return Run(NewSMMA(period), TrueRange(cs))
}

// StdDevSeries returns the rolling standard deviation. ddof is 0 for the
// population estimate and 1 for the sample estimate.
func StdDevSeries(prices []float64, period, ddof int) []float64 {
	out := make([]float64, len(prices))
	for i := range prices {
		if i+1 < period || period-ddof <= 0 {
			out[i] = nan
			continue
		}
		w := prices[i+1-period : i+1]
		mean := 0.0
		for _, p := range w {
			mean += p
		}
		mean /= float64(period)
		ss := 0.0
		for _, p := range w {
			ss += (p - mean) * (p - mean)
		}
		out[i] = math.Sqrt(ss / float64(period-ddof))
	}
	return out
}

// Bands holds Bollinger band series.
type Bands struct {
	Lower, Mid, Upper []float64
}

// BollingerBands returns SMA(period) ± k * population stddev.
func BollingerBands(prices []float64, period int, k float64) Bands {
	mid := SMASeries(prices, period)
	sd := StdDevSeries(prices, period, 0)
	b := Bands{
		Lower: make([]float64, len(prices)),
		Mid:   mid,
		Upper: make([]float64, len(prices)),
	}
	for i := range prices {
		if !Valid(mid[i]) || !Valid(sd[i]) {
			b.Lower[i], b.Upper[i] = nan, nan
			continue
		}
		b.Lower[i] = mid[i] - k*sd[i]
		b.Upper[i] = mid[i] + k*sd[i]
	}
	return b
}

// VWAPSeries returns the cumulative close-weighted VWAP over the window.
// Positions with zero cumulative volume are NaN.
func VWAPSeries(cs []model.Candle) []float64 {
	out := make([]float64, len(cs))
	var pv, v float64
	for i, c := range cs {
		pv += c.Close * float64(c.Volume)
		v += float64(c.Volume)
		if v == 0 {
			out[i] = nan
			continue
		}
		out[i] = pv / v
	}
	return out
}

// Mean returns the mean of the last n values, or NaN if fewer exist.
func Mean(s []float64, n int) float64 {
	if n <= 0 || len(s) < n {
		return nan
	}
	sum := 0.0
	for _, v := range s[len(s)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// Highest returns the max of the last n values, or NaN.
func Highest(s []float64, n int) float64 {
	if n <= 0 || len(s) < n {
		return nan
	}
	m := math.Inf(-1)
	for _, v := range s[len(s)-n:] {
		m = math.Max(m, v)
	}
	return m
}

// Lowest returns the min of the last n values, or NaN.
func Lowest(s []float64, n int) float64 {
	if n <= 0 || len(s) < n {
		return nan
	}
	m := math.Inf(1)
	for _, v := range s[len(s)-n:] {
		m = math.Min(m, v)
	}
	return m
}

// Highs extracts high prices.
func Highs(cs []model.Candle) []float64 {
	out := make([]float64, len(cs))
	for i := range cs {
		out[i] = cs[i].High
	}
	return out
}

// Lows extracts low prices.
func Lows(cs []model.Candle) []float64 {
	out := make([]float64, len(cs))
	for i := range cs {
		out[i] = cs[i].Low
	}
	return out
}

// Bodies extracts |close-open| per candle.
func Bodies(cs []model.Candle) []float64 {
	out := make([]float64, len(cs))
	for i := range cs {
		out[i] = cs[i].Body()
	}
	return out
}
