// Package indicator provides technical indicator calculations over candle data.
//
// Streaming indicators implement Indicator and are fed one price at a time.
// The series helpers in series.go compute a full output series over a
// candle window, which is how the detectors consume them.
package indicator

// Indicator is the interface for streaming technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Run feeds prices into ind and returns the value after each update.
// Positions before the indicator is ready are NaN.
func Run(ind Indicator, prices []float64) []float64 {
	out := make([]float64, len(prices))
	for i, p := range prices {
		ind.Update(p)
		if ind.Ready() {
			out[i] = ind.Value()
		} else {
			out[i] = nan
		}
	}
	return out
}
