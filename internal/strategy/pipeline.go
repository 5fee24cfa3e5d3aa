package strategy

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
)

// Admitter decides whether a signal may become a trade.
type Admitter interface {
	Admit(sig model.Signal) bool
}

// Config selects detectors and the offset table.
type Config struct {
	// Enabled lists detector names. Empty means every registered detector
	// plus trend following.
	Enabled []string
	Offsets Offsets
}

type instance struct {
	det  Detector
	vars *Vars
}

// Pipeline runs the three detector pools over a market window.
// It is not safe for concurrent use; a session owns one.
type Pipeline struct {
	pools   map[model.Leg][]instance
	trend   bool
	offsets Offsets
	admit   Admitter

	// OnDetectorFault is called when a detector panics.
	OnDetectorFault func(name string, leg model.Leg)

	// OnProposal is called for every proposal, admitted or not.
	OnProposal func(name string, leg model.Leg, admitted bool)
}

// NewPipeline builds fresh pools. Index-driven detectors go to the INDEX
// pool only; the rest get one instance per option leg. admit may be nil.
func NewPipeline(cfg Config, admit Admitter) (*Pipeline, error) {
	names := cfg.Enabled
	trend := false
	if len(names) == 0 {
		names = Names()
		trend = true
	}
	if cfg.Offsets.Classes == nil && cfg.Offsets.Default == (Offset{}) {
		cfg.Offsets = DefaultOffsets()
	}

	p := &Pipeline{
		pools:   make(map[model.Leg][]instance, 3),
		trend:   trend,
		offsets: cfg.Offsets,
		admit:   admit,
	}
	for _, name := range names {
		if name == TrendFollowing {
			p.trend = true
			continue
		}
		d, err := Build(name)
		if err != nil {
			return nil, err
		}
		if d.IsIndexDriven() {
			p.pools[model.LegIndex] = append(p.pools[model.LegIndex], instance{det: d, vars: NewVars()})
			continue
		}
		p.pools[model.LegCE] = append(p.pools[model.LegCE], instance{det: d, vars: NewVars()})
		pe, err := Build(name)
		if err != nil {
			return nil, err
		}
		p.pools[model.LegPE] = append(p.pools[model.LegPE], instance{det: pe, vars: NewVars()})
	}
	return p, nil
}

// Reset clears every instance's scratch state (session re-init).
func (p *Pipeline) Reset() {
	for _, pool := range p.pools {
		for _, in := range pool {
			in.vars.Clear()
		}
	}
}

// Vars exposes an instance's scratch state; used by tests and diagnostics.
func (p *Pipeline) Vars(leg model.Leg, name string) *Vars {
	for _, in := range p.pools[leg] {
		if in.det.Name() == name {
			return in.vars
		}
	}
	return nil
}

// Evaluate runs one pass over w and returns the admitted signals.
func (p *Pipeline) Evaluate(w model.MarketWindow, s model.Sentiment) []model.Signal {
	if !markethours.InEntryWindow(w.At) {
		return nil
	}
	var out []model.Signal
	emit := func(name string, leg model.Leg, prop *Proposal) {
		sig, ok := p.route(w, name, leg, prop)
		if !ok {
			return
		}
		admitted := p.admit == nil || p.admit.Admit(sig)
		if p.OnProposal != nil {
			p.OnProposal(name, leg, admitted)
		}
		if admitted {
			out = append(out, sig)
		}
	}

	if p.trend {
		p.trendFollowing(w, emit)
	}

	if len(w.Index) >= 20 {
		for _, in := range p.pools[model.LegIndex] {
			prop := p.check(in, model.LegIndex, w.Index, s)
			if prop == nil {
				continue
			}
			leg := model.LegCE
			if prop.Direction == model.Short {
				leg = model.LegPE
			}
			hist, _ := w.Leg(leg)
			if !PassesEMAFilter(hist) {
				continue
			}
			emit(in.det.Name(), leg, prop)
		}
	}

	for _, leg := range []model.Leg{model.LegCE, model.LegPE} {
		hist, _ := w.Leg(leg)
		if len(hist) == 0 {
			continue
		}
		for _, in := range p.pools[leg] {
			if prop := p.check(in, leg, hist, s); prop != nil {
				emit(in.det.Name(), leg, prop)
			}
		}
	}
	return out
}

func (p *Pipeline) trendFollowing(w model.MarketWindow, emit func(string, model.Leg, *Proposal)) {
	if len(w.Index) == 0 {
		return
	}
	leg, dir := model.LegCE, model.Long
	switch IndexTrend(w.Index) {
	case TrendBullish:
	case TrendBearish:
		leg, dir = model.LegPE, model.Short
	default:
		return
	}
	hist, _ := w.Leg(leg)
	if len(hist) == 0 {
		return
	}
	lo, hi := PullbackBand(w.IndexSymbol)
	if !IsPullback(hist[len(hist)-1], lo, hi) || !PassesEMAFilter(hist) {
		return
	}
	emit(TrendFollowing, leg, &Proposal{
		Direction: dir,
		Reason:    fmt.Sprintf("Index %s, pullback on %s.", dir, leg),
	})
}

// check calls the detector, converting a panic into "no proposal".
func (p *Pipeline) check(in instance, leg model.Leg, hist []model.Candle, s model.Sentiment) (prop *Proposal) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[strategy] detector %s (%s) panicked: %v", in.det.Name(), leg, r)
			if p.OnDetectorFault != nil {
				p.OnDetectorFault(in.det.Name(), leg)
			}
			prop = nil
		}
	}()
	return in.det.CheckSetup(hist, s, in.vars)
}

// route turns a proposal into a signal on leg: entry at the leg's last
// close, stop and target from the offset table of the index class.
func (p *Pipeline) route(w model.MarketWindow, name string, leg model.Leg, prop *Proposal) (model.Signal, bool) {
	hist, sym := w.Leg(leg)
	entry, ok := model.LastClose(hist)
	if !ok {
		return model.Signal{}, false
	}
	off := p.offsets.For(w.IndexSymbol)
	return model.Signal{
		ID:         uuid.NewString(),
		Strategy:   name,
		Symbol:     sym,
		Leg:        leg,
		Side:       model.SideBuy,
		Direction:  prop.Direction,
		EntryPrice: entry,
		StopLoss:   entry - off.SL,
		Target:     entry + off.Target,
		Reason:     prop.Reason,
		EventTime:  w.At,
	}, true
}
