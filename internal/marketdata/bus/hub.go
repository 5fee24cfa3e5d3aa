// Package bus fans the process-wide tick stream out to per-session
// subscribers, each filtered to its own symbols.
package bus

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"optionscalp/internal/model"
)

// Subscription is one consumer of the hub.
type Subscription struct {
	ID      string
	C       <-chan model.Tick
	ch      chan model.Tick
	symbols map[string]struct{}
}

// Hub broadcasts ticks to subscribers whose symbol set contains the tick's
// symbol. If a subscriber's channel is full the tick is dropped for that
// subscriber, so a slow session cannot stall the feed.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	bufSize int

	// OnDrop is called when a tick is dropped for a subscriber.
	OnDrop func(subID string)

	// OnSymbols is called with the union of subscribed symbols whenever it
	// changes; the feed worker uses it to resubscribe upstream.
	OnSymbols func(symbols []string)
}

// New creates a Hub with the given buffer size for subscriber channels.
func New(bufSize int) *Hub {
	return &Hub{subs: make(map[string]*Subscription), bufSize: bufSize}
}

// Subscribe registers a consumer for symbols.
func (h *Hub) Subscribe(symbols ...string) *Subscription {
	ch := make(chan model.Tick, h.bufSize)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, symbols: make(map[string]struct{}, len(symbols))}
	for _, sym := range symbols {
		s.symbols[sym] = struct{}{}
	}

	h.mu.Lock()
	h.subs[s.ID] = s
	union := h.unionLocked()
	h.mu.Unlock()

	if h.OnSymbols != nil {
		h.OnSymbols(union)
	}
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, s.ID)
	close(s.ch)
	union := h.unionLocked()
	h.mu.Unlock()

	if h.OnSymbols != nil {
		h.OnSymbols(union)
	}
}

func (h *Hub) unionLocked() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range h.subs {
		for sym := range s.symbols {
			if _, ok := seen[sym]; !ok {
				seen[sym] = struct{}{}
				out = append(out, sym)
			}
		}
	}
	return out
}

// Symbols returns the union of all subscribed symbols.
func (h *Hub) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.unionLocked()
}

// Publish delivers one tick to every interested subscriber.
func (h *Hub) Publish(t model.Tick) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.subs {
		if _, ok := s.symbols[t.Symbol]; !ok {
			continue
		}
		select {
		case s.ch <- t:
		default:
			if h.OnDrop != nil {
				h.OnDrop(id)
			} else {
				log.Printf("[bus] subscriber %s full, dropping tick %s", id, t.Symbol)
			}
		}
	}
}

// Run reads from input and publishes until ctx is cancelled or input closes.
func (h *Hub) Run(ctx context.Context, input <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-input:
			if !ok {
				return
			}
			h.Publish(t)
		}
	}
}

// ChannelStat reports (length, capacity) of a subscriber channel.
type ChannelStat struct {
	ID  string
	Len int
	Cap int
}

// ChannelStats is used for reporting channel saturation.
func (h *Hub) ChannelStats() []ChannelStat {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(h.subs))
	for id, s := range h.subs {
		stats = append(stats, ChannelStat{ID: id, Len: len(s.ch), Cap: cap(s.ch)})
	}
	return stats
}
