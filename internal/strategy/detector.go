// Package strategy evaluates pattern detectors over the index and option
// candle windows of a session and turns their proposals into signals.
//
// Detectors are stateless; whatever they need to remember between closed
// candles lives in the Vars they are handed. The pipeline owns one Vars per
// (pool, detector) instance, so the same detector running in the CE, PE and
// INDEX pools never shares scratch state.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"optionscalp/internal/model"
)

// Detector is a candle pattern recognizer.
type Detector interface {
	// Name returns the unique strategy name (e.g., "BB_MEAN_REVERSION_LONG").
	Name() string

	// IsIndexDriven reports whether the detector reads the index series
	// and routes its proposal to an option leg.
	IsIndexDriven() bool

	// CheckSetup inspects history (oldest first, last = just closed) and
	// returns a proposal, or nil.
	CheckSetup(history []model.Candle, s model.Sentiment, vars *Vars) *Proposal
}

// Proposal is a detector's raw suggestion before routing and admission.
// Only Direction and Reason reach the signal. EntryPrice, StopLoss and
// Target describe the setup on the series the detector read (often the
// index); routing replaces them with the leg's close and the offset table.
type Proposal struct {
	Direction  model.Direction
	EntryPrice float64
	StopLoss   float64
	Target     float64
	Reason     string
}

// Vars is per-instance scratch state that survives between closed candles.
type Vars struct {
	m map[string]float64
}

// NewVars returns empty scratch state.
func NewVars() *Vars {
	return &Vars{m: make(map[string]float64)}
}

func (v *Vars) Get(key string) (float64, bool) {
	x, ok := v.m[key]
	return x, ok
}

func (v *Vars) Set(key string, x float64) { v.m[key] = x }

func (v *Vars) Has(key string) bool {
	_, ok := v.m[key]
	return ok
}

// Flag reports whether key was set to a non-zero value.
func (v *Vars) Flag(key string) bool { return v.m[key] != 0 }

// SetFlag marks key as true.
func (v *Vars) SetFlag(key string) { v.m[key] = 1 }

// Len returns the number of stored keys.
func (v *Vars) Len() int { return len(v.m) }

// Clear drops all keys. Detectors call it when a setup completes.
func (v *Vars) Clear() {
	for k := range v.m {
		delete(v.m, k)
	}
}

// Factory creates a fresh detector.
type Factory func() Detector

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
	order      []string
)

// Register adds a detector factory under name. Registering the same name
// twice panics; it is a programming error.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("strategy: duplicate detector " + name)
	}
	registry[name] = f
	order = append(order, name)
}

// Build returns a fresh detector instance for name.
func Build(name string) (Detector, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown detector %q", name)
	}
	return f(), nil
}

// Names returns all registered detector names in registration order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// SortedNames is Names in lexical order, used for stable listings.
func SortedNames() []string {
	n := Names()
	sort.Strings(n)
	return n
}
