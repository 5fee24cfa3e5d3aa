package model

import (
	"context"
	"time"
)

// BarSource returns ordered historical bars for one symbol.
type BarSource interface {
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]Candle, error)
}

// SentimentSource supplies sentiment context at a candle boundary.
type SentimentSource interface {
	At(ctx context.Context, symbol string, t time.Time) Sentiment
}

// TradeStore persists the trade lifecycle.
type TradeStore interface {
	SaveTrade(ctx context.Context, session string, t Trade) error
}
