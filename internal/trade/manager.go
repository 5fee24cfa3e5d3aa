// Package trade manages the lifecycle of long-premium paper trades:
// admission, entry, stop/target/EOD exits and the running PnL snapshot.
package trade

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
	"optionscalp/internal/portfolio"
)

// DefaultCooldown is the minimum event-time gap between the exit of a
// (strategy, symbol) trade and the next entry on the same pair.
const DefaultCooldown = 300 * time.Second

type pairKey struct {
	strategy string
	symbol   string
}

// Options configures a Manager.
type Options struct {
	// Cooldown overrides DefaultCooldown when positive.
	Cooldown time.Duration
	// Risk is optional; nil disables daily limits.
	Risk *portfolio.RiskManager
	// SquareOff returns the forced-exit time for the day of t.
	// Defaults to markethours.SquareOff.
	SquareOff func(t time.Time) time.Time
}

// Manager is the trade state machine: NONE → OPEN → CLOSED.
type Manager struct {
	mu       sync.RWMutex
	trades   []model.Trade
	open     map[pairKey]int // index into trades
	lastExit map[pairKey]time.Time

	cooldown  time.Duration
	risk      *portfolio.RiskManager
	squareOff func(time.Time) time.Time

	// OnOpen and OnClose observe transitions. Called with the lock released.
	OnOpen  func(model.Trade)
	OnClose func(model.Trade)
}

// NewManager creates an empty trade manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		open:      make(map[pairKey]int),
		lastExit:  make(map[pairKey]time.Time),
		cooldown:  DefaultCooldown,
		risk:      opts.Risk,
		squareOff: markethours.SquareOff,
	}
	if opts.Cooldown > 0 {
		m.cooldown = opts.Cooldown
	}
	if opts.SquareOff != nil {
		m.squareOff = opts.SquareOff
	}
	return m
}

// Admit reports whether sig may open a trade now. It does not change state.
func (m *Manager) Admit(sig model.Signal) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ok, _ := m.admitLocked(sig)
	return ok
}

func (m *Manager) admitLocked(sig model.Signal) (bool, string) {
	if sig.EntryPrice <= 0 || sig.Symbol == "" {
		return false, "invalid signal"
	}
	k := pairKey{sig.Strategy, sig.Symbol}
	if _, dup := m.open[k]; dup {
		return false, "open trade exists"
	}
	if exit, ok := m.lastExit[k]; ok && sig.EventTime.Sub(exit) < m.cooldown {
		return false, "cooldown"
	}
	if m.risk != nil {
		if ok, reason := m.risk.CanTrade(sig.EventTime); !ok {
			return false, reason
		}
	}
	return true, ""
}

// Open records a new OPEN trade for an admitted signal. Callers that have
// not checked Admit should use Apply.
func (m *Manager) Open(sig model.Signal) model.Trade {
	m.mu.Lock()
	t := m.openLocked(sig)
	m.mu.Unlock()

	m.opened(t)
	return t
}

// Apply admits and opens in one step.
func (m *Manager) Apply(sig model.Signal) (model.Trade, bool) {
	m.mu.Lock()
	ok, reason := m.admitLocked(sig)
	if !ok {
		m.mu.Unlock()
		log.Printf("[trade] rejected %s on %s: %s", sig.Strategy, sig.Symbol, reason)
		return model.Trade{}, false
	}
	t := m.openLocked(sig)
	m.mu.Unlock()

	m.opened(t)
	return t, true
}

func (m *Manager) openLocked(sig model.Signal) model.Trade {
	t := model.Trade{
		ID:         uuid.NewString(),
		Symbol:     sig.Symbol,
		Strategy:   sig.Strategy,
		Leg:        sig.Leg,
		Reason:     sig.Reason,
		EntryPrice: sig.EntryPrice,
		EntryTime:  sig.EventTime,
		StopLoss:   sig.StopLoss,
		Target:     sig.Target,
		Status:     model.TradeOpen,
	}
	m.trades = append(m.trades, t)
	m.open[pairKey{t.Strategy, t.Symbol}] = len(m.trades) - 1
	return t
}

func (m *Manager) opened(t model.Trade) {
	if m.risk != nil {
		m.risk.RecordOpen(t.EntryTime)
	}
	log.Printf("[trade] OPEN %s %s entry=%.2f sl=%.2f tgt=%.2f at=%s",
		t.Strategy, t.Symbol, t.EntryPrice, t.StopLoss, t.Target, t.EntryTime.Format(time.RFC3339))
	if m.OnOpen != nil {
		m.OnOpen(t)
	}
}

// CheckExits evaluates every OPEN trade against the price of its own
// symbol. Order: EOD at or after square-off (last price), then SL when
// price <= stop (exit at stop), then TARGET when price >= target (exit at
// target). Trades without a price are left alone. Returns closed trades.
func (m *Manager) CheckExits(prices map[string]float64, now time.Time) []model.Trade {
	eod := !now.Before(m.squareOff(now))

	m.mu.Lock()
	var closed []model.Trade
	for k, i := range m.open {
		t := &m.trades[i]
		price, ok := prices[t.Symbol]
		if !ok {
			continue
		}
		switch {
		case eod:
			t.Close(price, now, model.ExitEOD)
		case price <= t.StopLoss:
			t.Close(t.StopLoss, now, model.ExitSL)
		case price >= t.Target:
			t.Close(t.Target, now, model.ExitTarget)
		default:
			continue
		}
		delete(m.open, k)
		m.lastExit[k] = now
		closed = append(closed, *t)
	}
	m.mu.Unlock()

	m.closed(closed)
	return closed
}

// SquareOffAll closes every OPEN trade with reason EOD. A trade with no
// price in prices exits at its entry price.
func (m *Manager) SquareOffAll(prices map[string]float64, now time.Time) []model.Trade {
	m.mu.Lock()
	var closed []model.Trade
	for k, i := range m.open {
		t := &m.trades[i]
		price, ok := prices[t.Symbol]
		if !ok {
			price = t.EntryPrice
		}
		t.Close(price, now, model.ExitEOD)
		delete(m.open, k)
		m.lastExit[k] = now
		closed = append(closed, *t)
	}
	m.mu.Unlock()

	m.closed(closed)
	return closed
}

func (m *Manager) closed(ts []model.Trade) {
	sortByEntry(ts)
	for _, t := range ts {
		if m.risk != nil {
			m.risk.RecordClose(t.PnL, t.ExitTime)
		}
		log.Printf("[trade] CLOSE %s %s %s exit=%.2f pnl=%.2f",
			t.Strategy, t.Symbol, t.ExitReason, t.ExitPrice, t.PnL)
		if m.OnClose != nil {
			m.OnClose(t)
		}
	}
}

// sortByEntry orders close events deterministically regardless of map
// iteration order.
func sortByEntry(ts []model.Trade) {
	sort.SliceStable(ts, func(i, j int) bool { return less(ts[i], ts[j]) })
}

func less(a, b model.Trade) bool {
	if !a.EntryTime.Equal(b.EntryTime) {
		return a.EntryTime.Before(b.EntryTime)
	}
	if a.Strategy != b.Strategy {
		return a.Strategy < b.Strategy
	}
	return a.Symbol < b.Symbol
}

// Trades returns a copy of every trade in entry order.
func (m *Manager) Trades() []model.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// OpenCount returns the number of OPEN trades.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// Snapshot computes PnL, marking open trades at prices.
func (m *Manager) Snapshot(prices map[string]float64) model.PnLSnapshot {
	return portfolio.Compute(m.Trades(), prices)
}

// Reset drops all trades and cooldown state.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = nil
	m.open = make(map[pairKey]int)
	m.lastExit = make(map[pairKey]time.Time)
}
