// Package agg builds fixed-interval OHLCV candles from live ticks or
// historical bars and keeps a bounded closed-candle history per symbol.
package agg

import (
	"log"
	"sort"
	"sync"
	"time"

	"optionscalp/internal/model"
	"optionscalp/internal/ringbuf"
)

// DefaultHistory is the number of closed candles retained per symbol.
const DefaultHistory = 500

// symbolState holds the in-progress candle and closed history for one symbol.
type symbolState struct {
	open    *model.Candle
	history *ringbuf.Ring

	lastCum int64
	seenCum bool

	last    float64
	hasLast bool
}

// Aggregator converts ticks into candles aligned to a fixed interval.
// A candle closes when a tick for a later bucket arrives. Safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	states   map[string]*symbolState
	interval time.Duration
	depth    int

	// Metrics hooks (optional, set externally)
	OnMalformedTick     func()
	OnCorrection        func()
	OnDroppedCorrection func()
}

// New creates an Aggregator for the given interval and history depth.
// Zero values default to one minute and DefaultHistory.
func New(interval time.Duration, depth int) *Aggregator {
	if interval <= 0 {
		interval = time.Minute
	}
	if depth <= 0 {
		depth = DefaultHistory
	}
	return &Aggregator{
		states:   make(map[string]*symbolState),
		interval: interval,
		depth:    depth,
	}
}

// Interval returns the candle interval.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Bucket returns the interval start for t.
func (a *Aggregator) Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(a.interval)
}

func (a *Aggregator) state(symbol string) *symbolState {
	st, ok := a.states[symbol]
	if !ok {
		st = &symbolState{history: ringbuf.New(a.depth)}
		a.states[symbol] = st
	}
	return st
}

// Ingest folds a tick into the symbol's open candle. When the tick belongs to
// a later bucket, the open candle is closed, appended to history, and returned.
// A bar carried on the tick is applied afterwards to whichever candle holds
// its bucket: the open one (running bar) or a closed one (correction). The
// returned candle already reflects it.
func (a *Aggregator) Ingest(tick model.Tick) (model.Candle, bool) {
	if !tick.Valid() {
		log.Printf("[agg] dropping malformed tick symbol=%q price=%v", tick.Symbol, tick.Price)
		if a.OnMalformedTick != nil {
			a.OnMalformedTick()
		}
		return model.Candle{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(tick.Symbol)

	// Volume is cumulative upstream. The first tick and counter resets give 0.
	var delta int64
	if st.seenCum && tick.CumVolume >= st.lastCum {
		delta = tick.CumVolume - st.lastCum
	}
	st.lastCum = tick.CumVolume
	st.seenCum = true

	bucket := a.Bucket(tick.TS)

	var (
		closed   model.Candle
		didClose bool
	)

	switch {
	case st.open == nil && st.closedThrough(bucket):
		// The bucket was closed early by CloseThrough. Fold into it.
		if !st.history.Update(bucket, func(c *model.Candle) { fold(c, tick.Price, delta) }) {
			log.Printf("[agg] dropping late tick %s @ %s", tick.Symbol, tick.TS.Format(time.RFC3339))
		}

	case st.open == nil:
		st.open = seed(tick.Symbol, bucket, tick.Price, delta)

	case bucket.After(st.open.OpenTime):
		closed = *st.open
		didClose = true
		st.history.Push(closed)
		st.open = seed(tick.Symbol, bucket, tick.Price, delta)

	default:
		// Same bucket, or a late tick folded in as if on time.
		fold(st.open, tick.Price, delta)
	}

	st.last = tick.Price
	st.hasLast = true

	if tick.Bar != nil {
		bar := *tick.Bar
		if st.open != nil && a.Bucket(bar.OpenTime).Equal(st.open.OpenTime) {
			if a.validBar(bar) {
				overlay(st.open, bar)
			}
		} else {
			a.correct(st, bar)
		}
		if didClose {
			if last, ok := st.history.Last(); ok && last.OpenTime.Equal(closed.OpenTime) {
				closed = last
			}
		}
	}

	return closed, didClose
}

// closedThrough reports whether history already holds bucket or a later one.
func (st *symbolState) closedThrough(bucket time.Time) bool {
	last, ok := st.history.Last()
	return ok && !bucket.After(last.OpenTime)
}

func fold(c *model.Candle, price float64, vol int64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += vol
}

func seed(symbol string, bucket time.Time, price float64, vol int64) *model.Candle {
	return &model.Candle{
		Symbol:   symbol,
		OpenTime: bucket,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		Volume:   vol,
	}
}

// IngestBar appends a finalized historical bar as a closed candle.
// Any open candle at or before the bar's bucket is discarded. Returns false
// only when the bar has no usable close.
func (a *Aggregator) IngestBar(bar model.Candle) (model.Candle, bool) {
	if bar.Symbol == "" || bar.Close <= 0 {
		log.Printf("[agg] dropping malformed bar symbol=%q close=%v", bar.Symbol, bar.Close)
		if a.OnMalformedTick != nil {
			a.OnMalformedTick()
		}
		return model.Candle{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(bar.Symbol)
	bar.OpenTime = a.Bucket(bar.OpenTime)
	if bar.Volume < 0 {
		bar.Volume = 0
	}
	widen(&bar)

	if st.open != nil && !st.open.OpenTime.After(bar.OpenTime) {
		st.open = nil
	}
	st.history.Push(bar)
	st.last = bar.Close
	st.hasLast = true
	return bar, true
}

// Correct applies an authoritative finalized bar to the matching closed
// candle. Open, high, low and volume are overwritten; close is kept.
// Returns false if no closed candle for that interval is held.
func (a *Aggregator) Correct(bar model.Candle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[bar.Symbol]
	if !ok {
		log.Printf("[agg] dropping correction for unknown symbol %s", bar.Symbol)
		if a.OnDroppedCorrection != nil {
			a.OnDroppedCorrection()
		}
		return false
	}
	return a.correct(st, bar)
}

func (a *Aggregator) validBar(bar model.Candle) bool {
	if bar.High < bar.Low || bar.Low <= 0 {
		log.Printf("[agg] dropping invalid correction %s @ %s", bar.Symbol, bar.OpenTime.Format(time.RFC3339))
		if a.OnDroppedCorrection != nil {
			a.OnDroppedCorrection()
		}
		return false
	}
	return true
}

func (a *Aggregator) correct(st *symbolState, bar model.Candle) bool {
	if !a.validBar(bar) {
		return false
	}

	bucket := a.Bucket(bar.OpenTime)
	ok := st.history.Update(bucket, func(c *model.Candle) { overlay(c, bar) })
	if !ok {
		log.Printf("[agg] dropping unmatched correction %s @ %s", bar.Symbol, bucket.Format(time.RFC3339))
		if a.OnDroppedCorrection != nil {
			a.OnDroppedCorrection()
		}
		return false
	}
	if a.OnCorrection != nil {
		a.OnCorrection()
	}
	return true
}

// overlay copies open, high, low and volume from bar; close stays live.
func overlay(c *model.Candle, bar model.Candle) {
	c.Open = bar.Open
	c.High = bar.High
	c.Low = bar.Low
	if bar.Volume >= 0 {
		c.Volume = bar.Volume
	}
	widen(c)
}

// widen stretches high/low so open and close lie inside the range.
func widen(c *model.Candle) {
	for _, p := range [...]float64{c.Open, c.Close} {
		if p > c.High {
			c.High = p
		}
		if p < c.Low {
			c.Low = p
		}
	}
}

// History returns a copy of the closed candles for symbol, oldest first.
func (a *Aggregator) History(symbol string) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[symbol]
	if !ok {
		return nil
	}
	return st.history.Snapshot()
}

// HistoryUntil returns a copy of closed candles opened at or before t.
func (a *Aggregator) HistoryUntil(symbol string, t time.Time) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[symbol]
	if !ok {
		return nil
	}
	return st.history.SnapshotUntil(t)
}

// CandlesAfter returns the closed candles opened after t, then the open
// candle if it is also after t, oldest first.
func (a *Aggregator) CandlesAfter(symbol string, t time.Time) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[symbol]
	if !ok {
		return nil
	}
	var out []model.Candle
	for _, c := range st.history.Snapshot() {
		if c.OpenTime.After(t) {
			out = append(out, c)
		}
	}
	if st.open != nil && st.open.OpenTime.After(t) {
		out = append(out, *st.open)
	}
	return out
}

// CloseThrough closes the open candle of symbol if it opened at or before
// b, as a tick for a later bucket would. A symbol that goes quiet still has
// its candle in history once the rest of the triple has moved past b.
// Later ticks for that bucket fold into the closed candle.
func (a *Aggregator) CloseThrough(symbol string, b time.Time) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[symbol]
	if !ok || st.open == nil || st.open.OpenTime.After(b) {
		return model.Candle{}, false
	}
	c := *st.open
	st.history.Push(c)
	st.open = nil
	return c, true
}

// Last returns the most recently observed price for symbol.
func (a *Aggregator) Last(symbol string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[symbol]
	if !ok || !st.hasLast {
		return 0, false
	}
	return st.last, true
}

// OpenCandle returns the in-progress candle for symbol.
func (a *Aggregator) OpenCandle(symbol string) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[symbol]
	if !ok || st.open == nil {
		return model.Candle{}, false
	}
	return *st.open, true
}

// Prices returns the last observed price per symbol.
func (a *Aggregator) Prices() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.states))
	for sym, st := range a.states {
		if st.hasLast {
			out[sym] = st.last
		}
	}
	return out
}

// Flush closes every open candle and returns them ordered by open time,
// then symbol. Used at end of stream.
func (a *Aggregator) Flush() []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.Candle
	for _, st := range a.states {
		if st.open == nil {
			continue
		}
		st.history.Push(*st.open)
		out = append(out, *st.open)
		st.open = nil
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].OpenTime.Before(out[j].OpenTime)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
