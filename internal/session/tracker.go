package session

import (
	"sort"
	"time"
)

// tracker decides when a candle boundary is complete across the triple.
// Bucket b is ready once every symbol has closed b, or as soon as any
// symbol closes a bucket after b. Buckets at or before the last pass are
// ignored; their closes only ever arrive as corrections.
type tracker struct {
	symbols []string
	pending map[int64]map[string]bool
	done    time.Time
}

func newTracker(symbols ...string) *tracker {
	return &tracker{symbols: symbols, pending: make(map[int64]map[string]bool)}
}

// closed records that symbol closed bucket b and returns the buckets that
// are now ready, oldest first.
func (t *tracker) closed(symbol string, b time.Time) []time.Time {
	if !t.done.IsZero() && !b.After(t.done) {
		return nil
	}
	key := b.UnixNano()
	seen, ok := t.pending[key]
	if !ok {
		seen = make(map[string]bool, len(t.symbols))
		t.pending[key] = seen
	}
	seen[symbol] = true

	var ready []int64
	for k, s := range t.pending {
		if k < key || len(s) == len(t.symbols) {
			ready = append(ready, k)
		}
	}
	return t.take(ready)
}

// touch registers bucket b as seen without marking any symbol closed. A
// candle that is only ever closed by CloseThrough still gets its pass.
func (t *tracker) touch(b time.Time) {
	if !t.done.IsZero() && !b.After(t.done) {
		return
	}
	if _, ok := t.pending[b.UnixNano()]; !ok {
		t.pending[b.UnixNano()] = make(map[string]bool, len(t.symbols))
	}
}

// drain returns every pending bucket. Used at end of stream.
func (t *tracker) drain() []time.Time {
	ready := make([]int64, 0, len(t.pending))
	for k := range t.pending {
		ready = append(ready, k)
	}
	return t.take(ready)
}

func (t *tracker) take(keys []int64) []time.Time {
	if len(keys) == 0 {
		return nil
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]time.Time, len(keys))
	for i, k := range keys {
		delete(t.pending, k)
		out[i] = time.Unix(0, k).UTC()
	}
	t.done = out[len(out)-1]
	return out
}
