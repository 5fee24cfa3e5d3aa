package sentiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"optionscalp/internal/model"
)

var base = time.Date(2025, 1, 6, 4, 0, 0, 0, time.UTC)

func TestHistoryProviderLatestAtOrBefore(t *testing.T) {
	hp := NewHistoryProvider(map[string][]model.PCRPoint{
		"NIFTY": {
			{TS: base.Add(10 * time.Minute), PCR: 1.3, Buildup: model.BuildupShort},
			{TS: base, PCR: 0.9, Buildup: model.BuildupLong},
		},
	})
	tests := []struct {
		name string
		at   time.Time
		want model.Sentiment
	}{
		{"before first", base.Add(-time.Minute), model.Sentiment{}},
		{"exact first", base, model.Sentiment{PCR: 0.9, Buildup: model.BuildupLong}},
		{"between", base.Add(9 * time.Minute), model.Sentiment{PCR: 0.9, Buildup: model.BuildupLong}},
		{"exact second", base.Add(10 * time.Minute), model.Sentiment{PCR: 1.3, Buildup: model.BuildupShort}},
		{"after", base.Add(time.Hour), model.Sentiment{PCR: 1.3, Buildup: model.BuildupShort}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hp.At(context.Background(), "NIFTY", tt.at); got != tt.want {
				t.Fatalf("At = %+v, want %+v", got, tt.want)
			}
		})
	}
	if got := hp.At(context.Background(), "BANKNIFTY", base); got != (model.Sentiment{}) {
		t.Fatalf("unknown symbol = %+v", got)
	}
}

type fakeHash struct {
	fields map[string]string
	err    error
	keys   []string
}

func (f *fakeHash) HGetAll(_ context.Context, key string) *redis.StringStringMapCmd {
	f.keys = append(f.keys, key)
	return redis.NewStringStringMapResult(f.fields, f.err)
}

func TestRedisProviderParsesAndCaches(t *testing.T) {
	f := &fakeHash{fields: map[string]string{"pcr": "1.12", "buildup": "Short Covering"}}
	p := NewRedisProvider(f, time.Second)
	ctx := context.Background()

	got := p.At(ctx, "NIFTY", base)
	want := model.Sentiment{PCR: 1.12, Buildup: model.BuildupShortCovering}
	if got != want {
		t.Fatalf("At = %+v, want %+v", got, want)
	}
	if f.keys[0] != "sentiment:NIFTY" {
		t.Fatalf("key = %s", f.keys[0])
	}

	f.fields, f.err = nil, errors.New("connection refused")
	if got := p.At(ctx, "NIFTY", base); got != want {
		t.Fatalf("outage should return cached value, got %+v", got)
	}
	if got := p.At(ctx, "BANKNIFTY", base); got != (model.Sentiment{}) {
		t.Fatalf("no cache should give zero value, got %+v", got)
	}
}

func TestRedisProviderBadPCR(t *testing.T) {
	f := &fakeHash{fields: map[string]string{"pcr": "n/a", "buildup": "LONG_BUILDUP"}}
	got := NewRedisProvider(f, 0).At(context.Background(), "NIFTY", base)
	if got.PCR != 0 || got.Buildup != model.BuildupLong {
		t.Fatalf("At = %+v", got)
	}
	if got.PCROrDefault() != 1.0 {
		t.Fatalf("PCROrDefault = %v", got.PCROrDefault())
	}
}

func TestClassifyBuildup(t *testing.T) {
	tests := []struct {
		price, oi float64
		want      model.Buildup
	}{
		{1, 1, model.BuildupLong},
		{-1, 1, model.BuildupShort},
		{-1, -1, model.BuildupLongUnwinding},
		{1, -1, model.BuildupShortCovering},
		{0, 1, model.BuildupNeutral},
	}
	for _, tt := range tests {
		if got := model.ClassifyBuildup(tt.price, tt.oi); got != tt.want {
			t.Errorf("ClassifyBuildup(%v, %v) = %s, want %s", tt.price, tt.oi, got, tt.want)
		}
	}
}
