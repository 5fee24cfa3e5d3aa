// Package ringbuf provides a bounded, overwrite-oldest ring of closed candles.
// It backs the per-symbol candle history kept by the aggregator. A Ring is not
// safe for concurrent use; the owner serializes access.
package ringbuf

import (
	"time"

	"optionscalp/internal/model"
)

// Ring holds the most recent Cap() candles in insertion order.
type Ring struct {
	buf   []model.Candle
	head  int // next write position
	count int

	// evicted counts candles pushed out by newer ones (for metrics)
	evicted uint64
}

// New creates a ring with the given capacity. Minimum capacity is 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]model.Candle, capacity)}
}

// Push appends a candle, evicting the oldest one when full.
func (r *Ring) Push(c model.Candle) {
	if r.count == len(r.buf) {
		r.evicted++
	} else {
		r.count++
	}
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
}

// Len returns the number of candles held.
func (r *Ring) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Evicted returns how many candles have been overwritten.
func (r *Ring) Evicted() uint64 { return r.evicted }

// index maps logical position i (0 = oldest) to a buffer slot.
func (r *Ring) index(i int) int {
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	return (start + i) % len(r.buf)
}

// At returns the i-th oldest candle.
func (r *Ring) At(i int) (model.Candle, bool) {
	if i < 0 || i >= r.count {
		return model.Candle{}, false
	}
	return r.buf[r.index(i)], true
}

// Last returns the newest candle.
func (r *Ring) Last() (model.Candle, bool) {
	return r.At(r.count - 1)
}

// Snapshot copies the held candles, oldest first.
func (r *Ring) Snapshot() []model.Candle {
	out := make([]model.Candle, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[r.index(i)]
	}
	return out
}

// SnapshotUntil copies candles whose OpenTime is not after t, oldest first.
func (r *Ring) SnapshotUntil(t time.Time) []model.Candle {
	out := make([]model.Candle, 0, r.count)
	for i := 0; i < r.count; i++ {
		c := r.buf[r.index(i)]
		if c.OpenTime.After(t) {
			break
		}
		out = append(out, c)
	}
	return out
}

// Update applies fn to the candle opened at t, searching newest first.
// Returns false when no such candle is held.
func (r *Ring) Update(t time.Time, fn func(c *model.Candle)) bool {
	for i := r.count - 1; i >= 0; i-- {
		slot := r.index(i)
		if r.buf[slot].OpenTime.Equal(t) {
			fn(&r.buf[slot])
			return true
		}
		if r.buf[slot].OpenTime.Before(t) {
			return false
		}
	}
	return false
}
