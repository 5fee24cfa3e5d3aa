package model

import "time"

// Direction is the directional view behind a proposal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Leg identifies a strategy pool / option leg.
type Leg string

const (
	LegCE    Leg = "CE"
	LegPE    Leg = "PE"
	LegIndex Leg = "INDEX"
)

// Side is always BUY: the system only buys option premium.
type Side string

const SideBuy Side = "BUY"

// Signal is an admitted entry produced by the pipeline.
type Signal struct {
	ID         string    `json:"id"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	Leg        Leg       `json:"leg"`
	Side       Side      `json:"side"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	Target     float64   `json:"target"`
	Reason     string    `json:"reason"`
	EventTime  time.Time `json:"event_time"`
}
