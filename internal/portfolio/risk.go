package portfolio

import (
	"log"
	"sync"
	"time"

	"optionscalp/internal/markethours"
)

// RiskLimits caps daily activity. Zero disables a limit.
type RiskLimits struct {
	MaxTradesPerDay int `json:"max_trades_per_day"`
	MaxLossesPerDay int `json:"max_losses_per_day"`
}

// RiskManager tracks per-day counters keyed by the IST calendar date.
// Counters roll over automatically on the first call of a new day.
// Losses are kept by exit time and only count against entries at or
// after that time, so the order in which exits are observed does not
// change which entries pass.
type RiskManager struct {
	mu     sync.Mutex
	limits RiskLimits

	day    string
	trades int
	losses []time.Time
}

// NewRiskManager creates a RiskManager with the given limits.
func NewRiskManager(limits RiskLimits) *RiskManager {
	return &RiskManager{limits: limits}
}

func (rm *RiskManager) roll(at time.Time) {
	d := at.In(markethours.IST).Format("2006-01-02")
	if d != rm.day {
		rm.day = d
		rm.trades = 0
		rm.losses = rm.losses[:0]
	}
}

// CanTrade reports whether a new trade at time at is within limits.
// Returns false with a reason if not.
func (rm *RiskManager) CanTrade(at time.Time) (bool, string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.roll(at)

	if rm.limits.MaxTradesPerDay > 0 && rm.trades >= rm.limits.MaxTradesPerDay {
		return false, "max trades per day reached"
	}
	if rm.limits.MaxLossesPerDay > 0 && rm.lossesBy(at) >= rm.limits.MaxLossesPerDay {
		return false, "max losing trades per day reached"
	}
	return true, ""
}

func (rm *RiskManager) lossesBy(at time.Time) int {
	n := 0
	for _, t := range rm.losses {
		if !t.After(at) {
			n++
		}
	}
	return n
}

// RecordOpen counts an opened trade.
func (rm *RiskManager) RecordOpen(at time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.roll(at)
	rm.trades++
}

// RecordClose counts a losing close. pnl <= 0 is a loss.
func (rm *RiskManager) RecordClose(pnl float64, at time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.roll(at)
	if pnl <= 0 {
		rm.losses = append(rm.losses, at)
		log.Printf("[risk] losing trade %d/%d today (pnl %.2f)", len(rm.losses), rm.limits.MaxLossesPerDay, pnl)
	}
}
