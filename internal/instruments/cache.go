// Package instruments holds the process-wide instrument master and
// resolves the at-the-money option legs for an index.
package instruments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
)

// ErrNotFound is returned when no instrument matches a lookup.
var ErrNotFound = errors.New("instrument not found")

// Fetcher loads the full instrument master.
type Fetcher interface {
	Fetch(ctx context.Context) ([]model.Instrument, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]model.Instrument, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]model.Instrument, error) { return f(ctx) }

// Static returns a fetcher that always serves the given rows.
func Static(rows []model.Instrument) Fetcher {
	return FetcherFunc(func(context.Context) ([]model.Instrument, error) {
		out := make([]model.Instrument, len(rows))
		copy(out, rows)
		return out, nil
	})
}

// Cache is a TTL cache over the instrument master. Concurrent refreshes
// share one in-flight fetch.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time

	sf      singleflight.Group
	fetches atomic.Int64

	mu       sync.RWMutex
	all      []model.Instrument
	bySymbol map[string]model.Instrument
	loadedAt time.Time

	// OnFetch is called each time the fetcher actually runs.
	OnFetch func()
}

// NewCache creates a cache. ttl <= 0 means entries never go stale.
func NewCache(f Fetcher, ttl time.Duration) *Cache {
	return &Cache{fetcher: f, ttl: ttl, now: time.Now}
}

// Fetches returns how many times the fetcher actually ran.
func (c *Cache) Fetches() int64 { return c.fetches.Load() }

// refreshTimeout bounds one shared fetch.
const refreshTimeout = 30 * time.Second

// Refresh reloads the master. Callers arriving while a refresh is in
// flight wait for it and share its result. The fetch is detached from the
// caller that started it: cancelling ctx only stops this caller waiting.
func (c *Cache) Refresh(ctx context.Context) error {
	ch := c.sf.DoChan("refresh", func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		c.fetches.Add(1)
		if c.OnFetch != nil {
			c.OnFetch()
		}
		rows, err := c.fetcher.Fetch(fctx)
		if err != nil {
			return nil, err
		}
		idx := make(map[string]model.Instrument, len(rows))
		for _, r := range rows {
			idx[strings.ToUpper(r.Symbol)] = r
		}
		c.mu.Lock()
		c.all = rows
		c.bySymbol = idx
		c.loadedAt = c.now()
		c.mu.Unlock()
		log.Printf("[instruments] loaded %d instruments", len(rows))
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("refresh instruments: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("refresh instruments: %w", res.Err)
		}
		if res.Shared {
			log.Printf("[instruments] joined in-flight refresh")
		}
		return nil
	}
}

func (c *Cache) ensure(ctx context.Context) error {
	c.mu.RLock()
	fresh := c.bySymbol != nil && (c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl)
	c.mu.RUnlock()
	if fresh {
		return nil
	}
	return c.Refresh(ctx)
}

// Resolve looks up an instrument by trading symbol (case-insensitive).
func (c *Cache) Resolve(ctx context.Context, symbol string) (model.Instrument, error) {
	if err := c.ensure(ctx); err != nil {
		return model.Instrument{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return model.Instrument{}, fmt.Errorf("%s: %w", symbol, ErrNotFound)
	}
	return inst, nil
}

// Index returns the index instrument (the row without an option type)
// for underlying.
func (c *Cache) Index(ctx context.Context, underlying string) (model.Instrument, error) {
	if err := c.ensure(ctx); err != nil {
		return model.Instrument{}, err
	}
	und := strings.ToUpper(underlying)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.all {
		if r.OptionType == "" && strings.ToUpper(r.Underlying) == und {
			return r, nil
		}
	}
	return model.Instrument{}, fmt.Errorf("index %s: %w", underlying, ErrNotFound)
}

// StrikeStep is 100 for BANK indices and 50 otherwise.
func StrikeStep(underlying string) float64 {
	if strings.Contains(strings.ToUpper(underlying), "BANK") {
		return 100
	}
	return 50
}

// ATMStrike rounds spot to the nearest strike step.
func ATMStrike(underlying string, spot float64) float64 {
	step := StrikeStep(underlying)
	return math.RoundToEven(spot/step) * step
}

// Legs returns the ATM CE and PE for underlying at the nearest expiry on
// or after date.
func (c *Cache) Legs(ctx context.Context, underlying string, spot float64, date time.Time) (ce, pe model.Instrument, err error) {
	if err := c.ensure(ctx); err != nil {
		return ce, pe, err
	}
	strike := ATMStrike(underlying, spot)
	day := dayOf(date)
	und := strings.ToUpper(underlying)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var expiry time.Time
	for _, r := range c.all {
		if strings.ToUpper(r.Underlying) != und || r.OptionType == "" {
			continue
		}
		e := dayOf(r.Expiry)
		if e.Before(day) {
			continue
		}
		if expiry.IsZero() || e.Before(expiry) {
			expiry = e
		}
	}
	if expiry.IsZero() {
		return ce, pe, fmt.Errorf("no expiry for %s on or after %s: %w", underlying, day.Format("2006-01-02"), ErrNotFound)
	}

	var haveCE, havePE bool
	for _, r := range c.all {
		if strings.ToUpper(r.Underlying) != und || r.Strike != strike || !dayOf(r.Expiry).Equal(expiry) {
			continue
		}
		switch r.OptionType {
		case "CE":
			ce, haveCE = r, true
		case "PE":
			pe, havePE = r, true
		}
	}
	if !haveCE || !havePE {
		return ce, pe, fmt.Errorf("%s %.0f %s: %w", underlying, strike, expiry.Format("02Jan2006"), ErrNotFound)
	}
	return ce, pe, nil
}

func dayOf(t time.Time) time.Time {
	ist := t.In(markethours.IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, markethours.IST)
}
