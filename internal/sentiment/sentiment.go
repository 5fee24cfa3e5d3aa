// Package sentiment supplies the PCR / OI-buildup context handed to the
// detectors at each candle boundary.
package sentiment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"optionscalp/internal/model"
)

// Provider returns the sentiment for symbol as of time t.
// It never fails; unknown sentiment is the zero value.
type Provider interface {
	At(ctx context.Context, symbol string, t time.Time) model.Sentiment
}

// Static always returns the same sentiment.
type Static model.Sentiment

func (s Static) At(context.Context, string, time.Time) model.Sentiment {
	return model.Sentiment(s)
}

// HistorySource loads stored PCR observations.
type HistorySource interface {
	PCRHistory(ctx context.Context, symbol string, from, to time.Time) ([]model.PCRPoint, error)
}

// HistoryProvider serves a day's PCR history for replay: the latest point
// at or before t wins.
type HistoryProvider struct {
	points map[string][]model.PCRPoint
}

// NewHistoryProvider builds a provider from in-memory points per symbol.
func NewHistoryProvider(points map[string][]model.PCRPoint) *HistoryProvider {
	hp := &HistoryProvider{points: make(map[string][]model.PCRPoint, len(points))}
	for sym, ps := range points {
		cp := make([]model.PCRPoint, len(ps))
		copy(cp, ps)
		sort.SliceStable(cp, func(i, j int) bool { return cp[i].TS.Before(cp[j].TS) })
		hp.points[sym] = cp
	}
	return hp
}

// LoadHistory reads [from, to] for symbol from src.
func LoadHistory(ctx context.Context, src HistorySource, symbol string, from, to time.Time) (*HistoryProvider, error) {
	ps, err := src.PCRHistory(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("load pcr history %s: %w", symbol, err)
	}
	return NewHistoryProvider(map[string][]model.PCRPoint{symbol: ps}), nil
}

func (hp *HistoryProvider) At(_ context.Context, symbol string, t time.Time) model.Sentiment {
	ps := hp.points[symbol]
	i := sort.Search(len(ps), func(i int) bool { return ps[i].TS.After(t) })
	if i == 0 {
		return model.Sentiment{}
	}
	p := ps[i-1]
	return model.Sentiment{PCR: p.PCR, Buildup: p.Buildup}
}

// Len returns the number of points held for symbol.
func (hp *HistoryProvider) Len(symbol string) int { return len(hp.points[symbol]) }
