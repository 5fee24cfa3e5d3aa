package model

import "time"

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// ExitReason explains why a trade was closed.
type ExitReason string

const (
	ExitSL     ExitReason = "SL"
	ExitTarget ExitReason = "TARGET"
	ExitEOD    ExitReason = "EOD"
)

// Trade is a long-premium paper position.
type Trade struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Strategy   string      `json:"strategy"`
	Leg        Leg         `json:"leg"`
	Reason     string      `json:"reason"`
	EntryPrice float64     `json:"entry_price"`
	EntryTime  time.Time   `json:"entry_time"`
	StopLoss   float64     `json:"stop_loss"`
	Target     float64     `json:"target"`
	Status     TradeStatus `json:"status"`
	ExitPrice  float64     `json:"exit_price"`
	ExitTime   time.Time   `json:"exit_time"`
	ExitReason ExitReason  `json:"exit_reason,omitempty"`
	PnL        float64     `json:"pnl"`
}

// Close transitions the trade to CLOSED. PnL is exit - entry.
func (t *Trade) Close(price float64, at time.Time, reason ExitReason) {
	t.ExitPrice = price
	t.ExitTime = at
	t.ExitReason = reason
	t.Status = TradeClosed
	t.PnL = price - t.EntryPrice
}

// PnLSnapshot aggregates a trade set.
type PnLSnapshot struct {
	TotalTrades   int     `json:"total_trades"`
	TotalClosed   int     `json:"total_closed"`
	OpenTrades    int     `json:"open_trades"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	WinCount      int     `json:"win_count"`
	LossCount     int     `json:"loss_count"`
	WinRate       float64 `json:"win_rate"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
}
