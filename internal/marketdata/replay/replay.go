// Package replay loads a historical day for an index/CE/PE triple and plays
// it back step by step at a configurable cadence.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
)

// ErrNoData is returned when a symbol has no bars for the requested day.
var ErrNoData = errors.New("no data")

// DefaultDelay is the wall-clock pause between replay steps.
const DefaultDelay = 500 * time.Millisecond

// Load reads the session window of day for index, ce and pe from src and
// merges them into one tape ordered by (time, index, CE, PE).
func Load(ctx context.Context, src model.BarSource, index, ce, pe string, day time.Time) ([]model.Candle, error) {
	from, to := markethours.SessionOpen(day), markethours.TodayClose(day)

	var tape []model.Candle
	rank := make(map[string]int, 3)
	for i, sym := range []string{index, ce, pe} {
		bars, err := src.Bars(ctx, sym, from, to)
		if err != nil {
			return nil, fmt.Errorf("load bars %s: %w", sym, err)
		}
		n := 0
		for _, b := range bars {
			if b.OpenTime.Before(from) || !b.OpenTime.Before(to) {
				continue
			}
			b.Symbol = sym
			tape = append(tape, b)
			n++
		}
		if n == 0 {
			return nil, fmt.Errorf("%s on %s: %w", sym, from.Format("2006-01-02"), ErrNoData)
		}
		rank[sym] = i
	}

	sort.SliceStable(tape, func(i, j int) bool {
		if !tape[i].OpenTime.Equal(tape[j].OpenTime) {
			return tape[i].OpenTime.Before(tape[j].OpenTime)
		}
		return rank[tape[i].Symbol] < rank[tape[j].Symbol]
	})
	log.Printf("[replay] loaded %d bars for %s/%s/%s on %s", len(tape), index, ce, pe, from.Format("2006-01-02"))
	return tape, nil
}

// Steps groups a tape into intervals: every bar sharing an OpenTime.
func Steps(tape []model.Candle) [][]model.Candle {
	var out [][]model.Candle
	for i := 0; i < len(tape); {
		j := i + 1
		for j < len(tape) && tape[j].OpenTime.Equal(tape[i].OpenTime) {
			j++
		}
		out = append(out, tape[i:j])
		i = j
	}
	return out
}

// Player emits a tape one step at a time. Pause blocks before the next
// step; a delay of 0 runs headless.
type Player struct {
	steps [][]model.Candle

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	delay  time.Duration
	pos    int

	// OnStep is called after each step with the 1-based step number.
	OnStep func(step, total int, at time.Time)
}

// NewPlayer creates a player for tape with the given delay.
func NewPlayer(tape []model.Candle, delay time.Duration) *Player {
	p := &Player{steps: Steps(tape), delay: delay}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Total returns the number of steps.
func (p *Player) Total() int { return len(p.steps) }

// Position returns the number of steps already emitted.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Pause stops emission before the next step.
func (p *Player) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume continues a paused player.
func (p *Player) Resume() {
	p.mu.Lock()
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Paused reports whether the player is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// SetDelay changes the step cadence; it applies from the next step.
func (p *Player) SetDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

// Run emits every remaining step through emit, in order. It returns
// ctx.Err() on cancellation or the first emit error.
func (p *Player) Run(ctx context.Context, emit func(context.Context, model.Candle) error) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	for {
		p.mu.Lock()
		for p.paused && ctx.Err() == nil {
			p.cond.Wait()
		}
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return err
		}
		if p.pos >= len(p.steps) {
			p.mu.Unlock()
			return nil
		}
		step := p.steps[p.pos]
		delay := p.delay
		p.mu.Unlock()

		for _, bar := range step {
			if err := emit(ctx, bar); err != nil {
				return err
			}
		}

		p.mu.Lock()
		p.pos++
		pos := p.pos
		p.mu.Unlock()
		if p.OnStep != nil {
			p.OnStep(pos, len(p.steps), step[0].OpenTime)
		}

		if delay > 0 && pos < len(p.steps) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}
