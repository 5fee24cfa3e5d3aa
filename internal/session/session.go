// Package session drives one strategy session over a live tick stream or a
// replayed day of bars. Both paths share the same Advance step, so a day
// replayed bar by bar and the same day fed as ticks produce the same trades.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"optionscalp/internal/marketdata/agg"
	"optionscalp/internal/marketdata/replay"
	"optionscalp/internal/markethours"
	"optionscalp/internal/metrics"
	"optionscalp/internal/model"
	"optionscalp/internal/portfolio"
	"optionscalp/internal/sentiment"
	"optionscalp/internal/strategy"
	"optionscalp/internal/trade"
)

var (
	// ErrNoData is returned when a replay day has no bars for a symbol.
	ErrNoData = replay.ErrNoData
	// ErrNotRunning is returned for control calls on a stopped session.
	ErrNotRunning = errors.New("session not running")
	// ErrBadMode is returned for an unknown start mode.
	ErrBadMode = errors.New("invalid session mode")

	errEmptyEvent = errors.New("event carries neither tick nor bar")
)

// Mode selects the input path of a session.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeReplay Mode = "replay"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLive, ModeReplay:
		return Mode(s), nil
	}
	return "", ErrBadMode
}

// Config assembles one session.
type Config struct {
	ID    string
	Mode  Mode
	Index string
	CE    string
	PE    string

	Interval time.Duration // default time.Minute
	History  int           // default agg.DefaultHistory

	Strategy  strategy.Config
	Cooldown  time.Duration
	Risk      portfolio.RiskLimits
	SquareOff func(time.Time) time.Time

	Sentiment sentiment.Provider // default: unknown sentiment
	Sink      EventSink
	Metrics   *metrics.Metrics
}

// Session owns the aggregator, pipeline and trade manager of one
// (index, CE, PE) triple.
type Session struct {
	id      string
	mode    Mode
	index   string
	ce      string
	pe      string
	symbols map[string]bool

	agg     *agg.Aggregator
	pipe    *strategy.Pipeline
	trades  *trade.Manager
	sent    sentiment.Provider
	sink    EventSink
	m       *metrics.Metrics
	tracker *tracker

	squareOff func(time.Time) time.Time

	mu       sync.Mutex
	lastAt   time.Time
	finished bool
	report   Report

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
}

// New builds a session from cfg.
func New(cfg Config) (*Session, error) {
	if cfg.Index == "" || cfg.CE == "" || cfg.PE == "" {
		return nil, errors.New("session: index, CE and PE symbols are required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.History <= 0 {
		cfg.History = agg.DefaultHistory
	}
	if cfg.Sentiment == nil {
		cfg.Sentiment = sentiment.Static{}
	}
	if cfg.Sink == nil {
		cfg.Sink = Discard
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	if cfg.SquareOff == nil {
		cfg.SquareOff = markethours.SquareOff
	}

	s := &Session{
		id:      cfg.ID,
		mode:    cfg.Mode,
		index:   cfg.Index,
		ce:      cfg.CE,
		pe:      cfg.PE,
		symbols: map[string]bool{cfg.Index: true, cfg.CE: true, cfg.PE: true},
		agg:     agg.New(cfg.Interval, cfg.History),
		sent:    cfg.Sentiment,
		sink:    cfg.Sink,
		m:       cfg.Metrics,
		tracker: newTracker(cfg.Index, cfg.CE, cfg.PE),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),

		squareOff: cfg.SquareOff,
	}

	var risk *portfolio.RiskManager
	if cfg.Risk != (portfolio.RiskLimits{}) {
		risk = portfolio.NewRiskManager(cfg.Risk)
	}
	s.trades = trade.NewManager(trade.Options{Cooldown: cfg.Cooldown, Risk: risk, SquareOff: cfg.SquareOff})

	pipe, err := strategy.NewPipeline(cfg.Strategy, s.trades)
	if err != nil {
		return nil, err
	}
	s.pipe = pipe

	s.wire()
	return s, nil
}

func (s *Session) wire() {
	m := s.m
	s.agg.OnMalformedTick = m.MalformedTicks.Inc
	s.agg.OnCorrection = func() { m.Corrections.WithLabelValues("applied").Inc() }
	s.agg.OnDroppedCorrection = func() { m.Corrections.WithLabelValues("dropped").Inc() }

	s.pipe.OnDetectorFault = func(name string, leg model.Leg) {
		m.DetectorFaults.WithLabelValues(name).Inc()
	}
	s.pipe.OnProposal = func(name string, leg model.Leg, admitted bool) {
		if !admitted {
			m.Rejected.WithLabelValues(name).Inc()
		}
	}

	s.trades.OnOpen = func(model.Trade) { m.TradesOpened.Inc() }
	s.trades.OnClose = func(t model.Trade) {
		m.TradesClosed.WithLabelValues(string(t.ExitReason)).Inc()
		m.RealizedPnL.Add(t.PnL)
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Mode() Mode { return s.mode }

// Symbols returns the index, CE and PE symbols.
func (s *Session) Symbols() (index, ce, pe string) { return s.index, s.ce, s.pe }

// Advance performs one logical step: ingest the event, run the evaluation
// pass for every candle boundary it completes, then check stops and targets
// of the event's symbol at the observed price. Safe for concurrent use.
func (s *Session) Advance(ctx context.Context, ev Event) error {
	if s.stopped.Load() {
		return ErrNotRunning
	}
	start := time.Now()
	defer func() { s.m.AdvanceDur.Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.end {
		s.finishLocked(ctx, ev.finals)
		return nil
	}
	if s.finished {
		return ErrNotRunning
	}

	var (
		closed model.Candle
		ok     bool
		sym    string
		price  float64
	)
	switch {
	case ev.Tick != nil:
		if !s.symbols[ev.Tick.Symbol] {
			return nil
		}
		s.m.TicksTotal.Inc()
		closed, ok = s.agg.Ingest(*ev.Tick)
		if !ev.Tick.Valid() {
			return nil
		}
		sym, price = ev.Tick.Symbol, ev.Tick.Price
		s.tracker.touch(s.agg.Bucket(ev.Tick.TS))
	case ev.Bar != nil:
		if !s.symbols[ev.Bar.Symbol] {
			return nil
		}
		var bar model.Candle
		if bar, ok = s.agg.IngestBar(*ev.Bar); !ok {
			return nil
		}
		closed, sym, price = bar, bar.Symbol, bar.Close
	default:
		return errEmptyEvent
	}

	at := ev.Time()
	if at.After(s.lastAt) {
		s.lastAt = at
	}
	if ok {
		s.m.CandlesClosed.Inc()
		for _, b := range s.tracker.closed(closed.Symbol, closed.OpenTime) {
			s.pass(ctx, b)
		}
	}
	s.observe(ctx, sym, price, at)
	return nil
}

// pass evaluates the window ending at bucket b. Candles of quiet symbols
// still open at b are closed first, so the window matches a replay of the
// same bars. From square-off on, the pass closes open trades at the window
// closes of b.
func (s *Session) pass(ctx context.Context, b time.Time) {
	s.m.PassesTotal.Inc()
	for _, sym := range []string{s.index, s.ce, s.pe} {
		if _, ok := s.agg.CloseThrough(sym, b); ok {
			s.m.CandlesClosed.Inc()
		}
	}
	w := model.MarketWindow{
		At:          b,
		IndexSymbol: s.index,
		CESymbol:    s.ce,
		PESymbol:    s.pe,
		Index:       s.agg.HistoryUntil(s.index, b),
		CE:          s.agg.HistoryUntil(s.ce, b),
		PE:          s.agg.HistoryUntil(s.pe, b),
	}

	closes := make(map[string]float64, 3)
	for _, leg := range []model.Leg{model.LegIndex, model.LegCE, model.LegPE} {
		hist, sym := w.Leg(leg)
		if c, ok := model.LastClose(hist); ok {
			closes[sym] = c
		}
	}
	if !b.Before(s.squareOff(b)) {
		s.exits(ctx, closes, b)
	}

	sent := s.sent.At(ctx, s.index, b)
	if s.stopped.Load() {
		return
	}

	fresh := make(map[string]bool, 2)
	for _, sig := range s.pipe.Evaluate(w, sent) {
		t, ok := s.trades.Apply(sig)
		if !ok {
			s.m.Rejected.WithLabelValues(sig.Strategy).Inc()
			continue
		}
		fresh[t.Symbol] = true
		s.m.SignalsTotal.WithLabelValues(sig.Strategy).Inc()
		sig := sig
		s.emit(ctx, Message{Type: KindSignal, At: b, Signal: &sig})
		s.emit(ctx, Message{Type: KindTrade, At: b, Trade: &t})
	}
	if len(fresh) == 0 {
		return
	}
	s.emitPnL(ctx, b)
	for _, sym := range []string{s.ce, s.pe, s.index} {
		if fresh[sym] {
			s.catchUp(ctx, sym, b)
		}
	}
}

// catchUp checks trades just opened at b against the prices of symbol
// already ingested after b. A live pass runs once the next bucket has
// started, so those observations predate the trade.
func (s *Session) catchUp(ctx context.Context, symbol string, b time.Time) {
	for _, c := range s.agg.CandlesAfter(symbol, b) {
		s.observe(ctx, symbol, c.Close, c.OpenTime)
	}
}

// observe checks stops and targets of trades on symbol at one observed
// price. From square-off on only the boundary pass closes trades, so the
// exit does not depend on which symbol reports first.
func (s *Session) observe(ctx context.Context, symbol string, price float64, at time.Time) {
	if !at.Before(s.squareOff(at)) {
		return
	}
	s.exits(ctx, map[string]float64{symbol: price}, at)
}

func (s *Session) exits(ctx context.Context, prices map[string]float64, at time.Time) {
	closed := s.trades.CheckExits(prices, at)
	s.emitClosed(ctx, closed, at)
}

func (s *Session) emitClosed(ctx context.Context, closed []model.Trade, at time.Time) {
	if len(closed) == 0 {
		return
	}
	for i := range closed {
		s.emit(ctx, Message{Type: KindTrade, At: at, Trade: &closed[i]})
	}
	s.emitPnL(ctx, at)
}

func (s *Session) emitPnL(ctx context.Context, at time.Time) {
	snap := s.trades.Snapshot(s.agg.Prices())
	s.emit(ctx, Message{Type: KindPnL, At: at, PnL: &snap})
}

func (s *Session) emit(ctx context.Context, m Message) {
	m.Session = s.id
	s.sink.Emit(ctx, m)
}

// finishLocked closes the open candles, runs the remaining passes and
// squares off whatever is still open.
func (s *Session) finishLocked(ctx context.Context, finals []model.Candle) {
	if s.finished {
		return
	}
	flushed := s.agg.Flush()
	for _, f := range finals {
		s.agg.Correct(f)
	}
	var ready []time.Time
	for _, c := range flushed {
		s.m.CandlesClosed.Inc()
		ready = append(ready, s.tracker.closed(c.Symbol, c.OpenTime)...)
	}
	ready = append(ready, s.tracker.drain()...)
	for _, b := range ready {
		s.pass(ctx, b)
	}

	squared := s.trades.SquareOffAll(s.agg.Prices(), s.lastAt)
	s.emitClosed(ctx, squared, s.lastAt)

	s.finished = true
	s.report = buildReport(s.id, s.trades.Trades(), s.agg.Prices())
	rep := s.report
	s.emit(ctx, Message{Type: KindFinished, At: s.lastAt, Report: &rep})
	log.Printf("[session] %s finished: %d trades, pnl %.2f", s.id, rep.PnL.TotalTrades, rep.PnL.TotalPnL)
}

// Finish ends the stream synchronously. See EndEvent.
func (s *Session) Finish(ctx context.Context, finals ...model.Candle) Report {
	s.Advance(ctx, EndEvent(finals...))
	return s.Report()
}

// Report returns the final report once the session finished, or a
// snapshot of the trades so far.
func (s *Session) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return s.report
	}
	return buildReport(s.id, s.trades.Trades(), s.agg.Prices())
}

// Trades returns a copy of every trade.
func (s *Session) Trades() []model.Trade { return s.trades.Trades() }

// Submit enqueues ev for the Run goroutine.
func (s *Session) Submit(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		return ErrNotRunning
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the session actor. It applies submitted events in order and
// returns after the end-of-stream event, on Stop, or when ctx ends.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case ev := <-s.events:
			if err := s.Advance(ctx, ev); err != nil && !errors.Is(err, ErrNotRunning) {
				log.Printf("[session] %s advance: %v", s.id, err)
			}
			if ev.end {
				return nil
			}
		}
	}
}

// Stop halts the session. Pending events are discarded and in-flight
// sentiment lookups finish without effect.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.done)
	})
}

// Done is closed once Stop has been called.
func (s *Session) Done() <-chan struct{} { return s.done }
