// Package feed is the live tick worker: it holds one WebSocket connection
// to the tick server, keeps the subscribed symbol set current across
// reconnects, and pushes decoded ticks into the hub's input channel.
//
// The wire format is JSON, one model.Tick per message:
//
//	{"symbol":"NIFTY","price":24012.5,"cum_volume":1200,"ts":"...","bar":{...}}
//
// Control messages sent upstream:
//
//	{"action":"subscribe","symbols":["NIFTY","NIFTY09JAN2524000CE"]}
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"optionscalp/internal/model"
)

// Config holds configuration for the feed worker.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

type control struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Worker streams ticks from one upstream connection.
type Worker struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols []string

	// OnReconnect is called each time a reconnection is scheduled.
	OnReconnect func()

	// OnMalformed is called for each undecodable message.
	OnMalformed func()
}

// New creates a worker. Returns an error if the URL is unparseable.
func New(cfg Config) (*Worker, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("feed: URL scheme must be ws or wss")
	}
	return &Worker{cfg: cfg}, nil
}

// SetSymbols replaces the subscribed set and pushes it upstream if
// connected. The set is re-sent on every reconnect.
func (w *Worker) SetSymbols(symbols []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.symbols = append([]string(nil), symbols...)
	if w.conn != nil {
		if err := w.conn.WriteJSON(control{Action: "subscribe", Symbols: w.symbols}); err != nil {
			log.Printf("[feed] subscribe failed: %v", err)
		}
	}
}

// Start connects and streams ticks into tickCh. Blocks until ctx is
// cancelled. Reconnects with exponential backoff on disconnect.
func (w *Worker) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := w.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := w.runOnce(ctx, tickCh)
		if err == nil {
			return nil
		}
		if connected {
			delay = w.cfg.ReconnectDelay
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if w.OnReconnect != nil {
			w.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > w.cfg.MaxReconnectDelay {
			delay = w.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (w *Worker) runOnce(ctx context.Context, tickCh chan<- model.Tick) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	log.Printf("[feed] connected to %s", w.cfg.URL)

	w.mu.Lock()
	w.conn = conn
	if len(w.symbols) > 0 {
		if err := conn.WriteJSON(control{Action: "subscribe", Symbols: w.symbols}); err != nil {
			w.conn = nil
			w.mu.Unlock()
			return true, err
		}
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		w.mu.Unlock()
		conn.Close()
	})
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil || tick.Symbol == "" {
			log.Printf("[feed] skipping message: %v (raw: %.120s)", err, raw)
			if w.OnMalformed != nil {
				w.OnMalformed()
			}
			continue
		}

		select {
		case tickCh <- tick:
		case <-ctx.Done():
			return true, nil
		}
	}
}
