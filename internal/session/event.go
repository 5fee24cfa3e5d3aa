package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"optionscalp/internal/model"
	"optionscalp/internal/notification"
)

// Event is one input to a session: a live tick or a historical bar.
// EndEvent builds the end-of-stream marker.
type Event struct {
	Tick *model.Tick
	Bar  *model.Candle

	end    bool
	finals []model.Candle
}

// TickEvent wraps a live tick.
func TickEvent(t model.Tick) Event { return Event{Tick: &t} }

// BarEvent wraps a historical bar.
func BarEvent(c model.Candle) Event { return Event{Bar: &c} }

// EndEvent marks end of stream. finals are broker-finalized bars for the
// candles still open, applied as corrections before the last pass.
func EndEvent(finals ...model.Candle) Event { return Event{end: true, finals: finals} }

// Time returns the event time: the tick timestamp or the bar open time.
func (e Event) Time() time.Time {
	switch {
	case e.Tick != nil:
		return e.Tick.TS
	case e.Bar != nil:
		return e.Bar.OpenTime
	}
	return time.Time{}
}

// Kind is the type tag of an outbound message.
type Kind string

const (
	KindReplayInfo Kind = "replay_info"
	KindStep       Kind = "step"
	KindSignal     Kind = "signal"
	KindTrade      Kind = "trade"
	KindPnL        Kind = "pnl"
	KindError      Kind = "error"
	KindFinished   Kind = "finished"
)

// ReplayInfo describes a started session.
type ReplayInfo struct {
	Mode   Mode    `json:"mode"`
	Date   string  `json:"date,omitempty"`
	Index  string  `json:"index"`
	CE     string  `json:"ce"`
	PE     string  `json:"pe"`
	Strike float64 `json:"strike"`
	Steps  int     `json:"steps,omitempty"`
}

// Progress is a replay step notification.
type Progress struct {
	Step  int `json:"step"`
	Total int `json:"total"`
}

// Message is an outbound session event, serialized as a JSON envelope.
type Message struct {
	Type    Kind               `json:"type"`
	Session string             `json:"session"`
	At      time.Time          `json:"at"`
	Signal  *model.Signal      `json:"signal,omitempty"`
	Trade   *model.Trade       `json:"trade,omitempty"`
	PnL     *model.PnLSnapshot `json:"pnl,omitempty"`
	Info    *ReplayInfo        `json:"info,omitempty"`
	Step    *Progress          `json:"step,omitempty"`
	Report  *Report            `json:"report,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// EventSink receives outbound session messages. Emit runs inline with the
// session and may be called from the replay player goroutine too, so
// implementations must be safe for concurrent use and return quickly.
type EventSink interface {
	Emit(ctx context.Context, m Message)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, m Message)

func (f SinkFunc) Emit(ctx context.Context, m Message) { f(ctx, m) }

// Discard drops every message.
var Discard EventSink = SinkFunc(func(context.Context, Message) {})

// MultiSink fans each message out to every sink in order.
type MultiSink []EventSink

func (ms MultiSink) Emit(ctx context.Context, m Message) {
	for _, s := range ms {
		if s != nil {
			s.Emit(ctx, m)
		}
	}
}

// JournalSink persists trade transitions through a TradeStore.
type JournalSink struct {
	Store model.TradeStore
}

func (j JournalSink) Emit(ctx context.Context, m Message) {
	if m.Type != KindTrade || m.Trade == nil {
		return
	}
	if err := j.Store.SaveTrade(ctx, m.Session, *m.Trade); err != nil {
		log.Printf("[session] journal trade %s: %v", m.Trade.ID, err)
	}
}

// NotifySink turns trade transitions into alerts. Delivery happens on the
// Run goroutine; when the queue is full the alert is dropped.
type NotifySink struct {
	n     notification.Notifier
	queue chan notification.Alert
}

// NewNotifySink creates a sink with a bounded queue.
func NewNotifySink(n notification.Notifier, size int) *NotifySink {
	if size <= 0 {
		size = 64
	}
	return &NotifySink{n: n, queue: make(chan notification.Alert, size)}
}

func (s *NotifySink) Emit(_ context.Context, m Message) {
	a, ok := alertFor(m)
	if !ok {
		return
	}
	select {
	case s.queue <- a:
	default:
		log.Printf("[notify] queue full, dropping %q", a.Title)
	}
}

// Run delivers queued alerts until ctx is done.
func (s *NotifySink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := s.n.Send(sendCtx, a); err != nil {
				log.Printf("[notify] %s: %v", a.Title, err)
			}
			cancel()
		}
	}
}

func alertFor(m Message) (notification.Alert, bool) {
	switch m.Type {
	case KindTrade:
		t := m.Trade
		if t == nil {
			return notification.Alert{}, false
		}
		if t.Status == model.TradeOpen {
			return notification.Alert{
				Level:   notification.AlertInfo,
				Title:   fmt.Sprintf("BUY %s", t.Symbol),
				Message: fmt.Sprintf("%s @ %.2f SL %.2f TGT %.2f (%s)", t.Strategy, t.EntryPrice, t.StopLoss, t.Target, t.Reason),
				Session: m.Session,
			}, true
		}
		level := notification.AlertInfo
		if t.ExitReason == model.ExitSL {
			level = notification.AlertWarning
		}
		return notification.Alert{
			Level:   level,
			Title:   fmt.Sprintf("EXIT %s %s", t.Symbol, t.ExitReason),
			Message: fmt.Sprintf("%s %.2f -> %.2f pnl %.2f", t.Strategy, t.EntryPrice, t.ExitPrice, t.PnL),
			Session: m.Session,
		}, true
	case KindError:
		return notification.Alert{Level: notification.AlertCritical, Title: "session error", Message: m.Error, Session: m.Session}, true
	case KindFinished:
		if m.Report == nil {
			return notification.Alert{}, false
		}
		return notification.Alert{
			Level:   notification.AlertInfo,
			Title:   "session finished",
			Message: fmt.Sprintf("%d trades, pnl %.2f, win rate %.1f%%", m.Report.PnL.TotalTrades, m.Report.PnL.TotalPnL, m.Report.PnL.WinRate),
			Session: m.Session,
		}, true
	}
	return notification.Alert{}, false
}
