package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"optionscalp/internal/instruments"
	"optionscalp/internal/marketdata/bus"
	"optionscalp/internal/marketdata/replay"
	"optionscalp/internal/markethours"
	"optionscalp/internal/metrics"
	"optionscalp/internal/model"
	"optionscalp/internal/portfolio"
	"optionscalp/internal/sentiment"
	"optionscalp/internal/strategy"
)

// DefaultSpotTimeout bounds the wait for the first index tick when a live
// session resolves its ATM strike.
const DefaultSpotTimeout = 10 * time.Second

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Hub         *bus.Hub
	Instruments *instruments.Cache
	Bars        model.BarSource
	PCR         sentiment.HistorySource // replay sentiment; optional
	Live        sentiment.Provider      // live sentiment; optional
	Sink        EventSink               // process-wide sink; optional

	Strategy    strategy.Config
	Risk        portfolio.RiskLimits
	Cooldown    time.Duration
	ReplayDelay time.Duration // zero runs replays headless
	SpotTimeout time.Duration
	Metrics     *metrics.Metrics

	Now func() time.Time
}

// StartRequest is the start command of the control surface.
type StartRequest struct {
	Symbol string `json:"symbol"`
	Mode   Mode   `json:"mode"`
	Date   string `json:"date,omitempty"` // YYYY-MM-DD, replay only
}

type run struct {
	s      *Session
	player *replay.Player
	sub    *bus.Subscription
	cancel context.CancelFunc
}

// Manager starts and controls sessions.
type Manager struct {
	deps Deps

	mu   sync.Mutex
	runs map[string]*run
}

// NewManager creates a session controller.
func NewManager(deps Deps) *Manager {
	if deps.SpotTimeout <= 0 {
		deps.SpotTimeout = DefaultSpotTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{deps: deps, runs: make(map[string]*run)}
}

// Start resolves the option legs for req and launches a session that
// streams its messages to sink as well as the process-wide sink.
func (m *Manager) Start(ctx context.Context, req StartRequest, sink EventSink) (*Session, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, fmt.Errorf("mode %q: %w", req.Mode, err)
	}
	und := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if und == "" {
		return nil, errors.New("symbol is required")
	}
	if m.deps.Instruments == nil {
		return nil, errors.New("no instrument cache configured")
	}
	idx, err := m.deps.Instruments.Index(ctx, und)
	if err != nil {
		return nil, err
	}

	if mode == ModeReplay {
		return m.startReplay(ctx, und, idx, req.Date, sink)
	}
	return m.startLive(ctx, und, idx, sink)
}

func (m *Manager) config(mode Mode, index, ce, pe string, prov sentiment.Provider, sink EventSink) Config {
	return Config{
		ID:        uuid.NewString(),
		Mode:      mode,
		Index:     index,
		CE:        ce,
		PE:        pe,
		Strategy:  m.deps.Strategy,
		Cooldown:  m.deps.Cooldown,
		Risk:      m.deps.Risk,
		Sentiment: prov,
		Sink:      MultiSink{m.deps.Sink, sink},
		Metrics:   m.deps.Metrics,
	}
}

func (m *Manager) startReplay(ctx context.Context, und string, idx model.Instrument, date string, sink EventSink) (*Session, error) {
	if m.deps.Bars == nil {
		return nil, errors.New("no bar source configured")
	}
	day, err := time.ParseInLocation("2006-01-02", date, markethours.IST)
	if err != nil {
		return nil, fmt.Errorf("date %q: %w", date, err)
	}
	from, to := markethours.SessionOpen(day), markethours.TodayClose(day)

	bars, err := m.deps.Bars.Bars(ctx, idx.Symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", idx.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s on %s: %w", idx.Symbol, date, ErrNoData)
	}
	ce, pe, err := m.deps.Instruments.Legs(ctx, und, bars[0].Open, day)
	if err != nil {
		return nil, err
	}
	tape, err := replay.Load(ctx, m.deps.Bars, idx.Symbol, ce.Symbol, pe.Symbol, day)
	if err != nil {
		return nil, err
	}

	var prov sentiment.Provider = sentiment.Static{}
	if m.deps.PCR != nil {
		hp, err := sentiment.LoadHistory(ctx, m.deps.PCR, idx.Symbol, from, to)
		if err != nil {
			log.Printf("[session] pcr history for %s: %v (continuing without sentiment)", idx.Symbol, err)
		} else {
			prov = hp
		}
	}

	s, err := New(m.config(ModeReplay, idx.Symbol, ce.Symbol, pe.Symbol, prov, sink))
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	player := replay.NewPlayer(tape, m.deps.ReplayDelay)
	player.OnStep = func(step, total int, at time.Time) {
		s.emit(runCtx, Message{Type: KindStep, At: at, Step: &Progress{Step: step, Total: total}})
	}
	r := &run{s: s, player: player, cancel: cancel}
	m.track(r)

	s.emit(ctx, Message{Type: KindReplayInfo, At: from, Info: &ReplayInfo{
		Mode: ModeReplay, Date: date, Index: idx.Symbol, CE: ce.Symbol, PE: pe.Symbol, Strike: ce.Strike, Steps: player.Total(),
	}})

	go m.actor(runCtx, r)
	go func() {
		err := player.Run(runCtx, func(ctx context.Context, c model.Candle) error {
			return s.Submit(ctx, BarEvent(c))
		})
		if err != nil {
			return
		}
		if err := s.Submit(runCtx, EndEvent()); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Printf("[session] %s end of tape: %v", s.id, err)
		}
	}()
	log.Printf("[session] %s replay %s %s/%s/%s (%d steps)", s.id, date, idx.Symbol, ce.Symbol, pe.Symbol, player.Total())
	return s, nil
}

func (m *Manager) startLive(ctx context.Context, und string, idx model.Instrument, sink EventSink) (*Session, error) {
	if m.deps.Hub == nil {
		return nil, errors.New("no live feed configured")
	}
	spot, err := m.spot(ctx, idx.Symbol)
	if err != nil {
		return nil, err
	}
	now := m.deps.Now()
	ce, pe, err := m.deps.Instruments.Legs(ctx, und, spot, now)
	if err != nil {
		return nil, err
	}

	prov := m.deps.Live
	if prov == nil {
		prov = sentiment.Static{}
	}
	s, err := New(m.config(ModeLive, idx.Symbol, ce.Symbol, pe.Symbol, prov, sink))
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := m.deps.Hub.Subscribe(idx.Symbol, ce.Symbol, pe.Symbol)
	r := &run{s: s, sub: sub, cancel: cancel}
	m.track(r)

	s.emit(ctx, Message{Type: KindReplayInfo, At: now, Info: &ReplayInfo{
		Mode: ModeLive, Index: idx.Symbol, CE: ce.Symbol, PE: pe.Symbol, Strike: ce.Strike,
	}})

	go m.actor(runCtx, r)
	go func() {
		for t := range sub.C {
			if err := s.Submit(runCtx, TickEvent(t)); err != nil {
				return
			}
		}
	}()
	log.Printf("[session] %s live %s/%s/%s spot=%.2f", s.id, idx.Symbol, ce.Symbol, pe.Symbol, spot)
	return s, nil
}

// spot waits for the first index tick on the hub.
func (m *Manager) spot(ctx context.Context, symbol string) (float64, error) {
	spotSub := m.deps.Hub.Subscribe(symbol)
	defer m.deps.Hub.Unsubscribe(spotSub)

	timer := time.NewTimer(m.deps.SpotTimeout)
	defer timer.Stop()
	for {
		select {
		case t, ok := <-spotSub.C:
			if !ok {
				return 0, ErrNotRunning
			}
			if t.Valid() {
				return t.Price, nil
			}
		case <-timer.C:
			return 0, fmt.Errorf("no tick for %s within %s: %w", symbol, m.deps.SpotTimeout, ErrNoData)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (m *Manager) track(r *run) {
	m.mu.Lock()
	m.runs[r.s.id] = r
	m.mu.Unlock()
	m.deps.Metrics.ActiveSessions.WithLabelValues(string(r.s.mode)).Inc()
}

// actor runs the session until it finishes or is stopped, then forgets it.
func (m *Manager) actor(ctx context.Context, r *run) {
	defer m.forget(r)
	if err := r.s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.s.emit(context.Background(), Message{Type: KindError, Error: err.Error()})
	}
}

func (m *Manager) forget(r *run) {
	m.mu.Lock()
	_, ok := m.runs[r.s.id]
	delete(m.runs, r.s.id)
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	if r.sub != nil {
		m.deps.Hub.Unsubscribe(r.sub)
	}
	r.s.Stop()
	m.deps.Metrics.ActiveSessions.WithLabelValues(string(r.s.mode)).Dec()
}

func (m *Manager) get(id string) (*run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotRunning
	}
	return r, nil
}

func (m *Manager) replayRun(id string) (*run, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if r.player == nil {
		return nil, fmt.Errorf("session %s is live: %w", id, ErrBadMode)
	}
	return r, nil
}

// Pause holds a replay before its next step.
func (m *Manager) Pause(id string) error {
	r, err := m.replayRun(id)
	if err != nil {
		return err
	}
	r.player.Pause()
	return nil
}

// Resume continues a paused replay.
func (m *Manager) Resume(id string) error {
	r, err := m.replayRun(id)
	if err != nil {
		return err
	}
	r.player.Resume()
	return nil
}

// SetReplaySpeed changes the delay between replay steps. 0 runs headless.
func (m *Manager) SetReplaySpeed(id string, d time.Duration) error {
	r, err := m.replayRun(id)
	if err != nil {
		return err
	}
	r.player.SetDelay(d)
	return nil
}

// Stop squares off the session's open trades, emits its report and tears
// down its feed subscription.
func (m *Manager) Stop(ctx context.Context, id string) (Report, error) {
	r, err := m.get(id)
	if err != nil {
		return Report{}, err
	}
	rep := r.s.Finish(ctx)
	m.forget(r)
	return rep, nil
}

// Get returns a running session.
func (m *Manager) Get(id string) (*Session, bool) {
	r, err := m.get(id)
	if err != nil {
		return nil, false
	}
	return r.s, true
}

// Sessions returns the running sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.s)
	}
	return out
}

// Active returns the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Shutdown stops every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(ctx, id)
	}
}
