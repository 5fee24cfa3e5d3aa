package model

import "time"

// Instrument is one row of the broker instrument master.
type Instrument struct {
	Key        string    `json:"key"`    // provider instrument key, e.g. "NSE_FO|45450"
	Symbol     string    `json:"symbol"` // display symbol used across the session
	Underlying string    `json:"underlying"`
	Strike     float64   `json:"strike"`
	OptionType string    `json:"option_type"` // CE, PE, or "" for the index itself
	Expiry     time.Time `json:"expiry"`
	LotSize    int       `json:"lot_size"`
}
