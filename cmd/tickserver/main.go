// Command tickserver is a demo WebSocket tick server. It broadcasts
// simulated ticks in the live feed's wire format so sessions can run in
// live mode without broker credentials.
//
// Tick JSON shape is identical to model.Tick:
//
//	{"symbol":"Nifty 50","price":24012.5,"cum_volume":1200,"ts":"...","bar":{...}}
//
// The first tick of each new minute carries the finalized bar of the
// previous minute. Clients choose their symbols with
//
//	{"action":"subscribe","symbols":["Nifty 50","NIFTY09JAN2524000CE"]}
//
// and receive nothing until they do.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_SYMBOLS      comma-separated SYMBOL=PRICE pairs
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"optionscalp/internal/model"
)

const defaultSymbols = "Nifty 50=24000,NIFTY09JAN2524000CE=120,NIFTY09JAN2524000PE=110," +
	"Nifty Bank=51000,BANKNIFTY08JAN2551000CE=300,BANKNIFTY08JAN2551000PE=280"

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
	Cum    int64
	bar    *model.Candle // forming minute bar
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	ch      chan []byte
	mu      sync.RWMutex
	symbols map[string]bool
}

func (c *client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbols[symbol]
}

func (c *client) subscribe(symbols []string) {
	c.mu.Lock()
	c.symbols = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		c.symbols[s] = true
	}
	c.mu.Unlock()
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{ch: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(symbol string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(symbol) {
			continue
		}
		select {
		case c.ch <- msg:
		default: // slow client, drop the tick
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type control struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		c := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: subscription updates.
		go func() {
			for {
				var msg control
				if err := conn.ReadJSON(&msg); err != nil {
					conn.Close()
					return
				}
				if msg.Action == "subscribe" {
					c.subscribe(msg.Symbols)
					log.Printf("[tickserver] %s subscribed to %v", r.RemoteAddr, msg.Symbols)
				}
			}
		}()

		// Write pump: sends tick JSON to this client.
		for msg := range c.ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.1%), rounded to the 0.05 tick size.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	p := math.Round(price*(1+pct)*20) / 20
	if p < 0.05 {
		p = 0.05
	}
	return p
}

// next advances one instrument and returns its tick. When now starts a new
// minute, the previous minute's bar is attached as finalized.
func (in *instrument) next(rng *rand.Rand, now time.Time) model.Tick {
	in.Price = walkPrice(rng, in.Price)
	qty := int64(rng.Intn(100) + 1)
	in.Cum += qty

	t := model.Tick{Symbol: in.Symbol, Price: in.Price, CumVolume: in.Cum, TS: now}
	minute := now.Truncate(time.Minute)
	if in.bar != nil && !in.bar.OpenTime.Equal(minute) {
		done := *in.bar
		t.Bar = &done
		in.bar = nil
	}
	if in.bar == nil {
		in.bar = &model.Candle{Symbol: in.Symbol, OpenTime: minute, Open: in.Price, High: in.Price, Low: in.Price}
	}
	b := in.bar
	b.High = math.Max(b.High, in.Price)
	b.Low = math.Min(b.Low, in.Price)
	b.Close = in.Price
	b.Volume += qty
	return t
}

func runGenerator(h *hub, instruments []*instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for now := range ticker.C {
		for _, in := range instruments {
			b, err := json.Marshal(in.next(rng, now.UTC()))
			if err != nil {
				continue
			}
			h.broadcast(in.Symbol, b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	symbolsEnv := envOrDefault("TICK_SYMBOLS", defaultSymbols)
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_SYMBOLS")
	}
	for _, in := range instruments {
		log.Printf("[tickserver] instrument %s @ %.2f", in.Symbol, in.Price)
	}
	log.Printf("[tickserver] broadcast interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []*instrument {
	var result []*instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, "=", 2)
		if len(seg) != 2 {
			log.Printf("[tickserver] skipping invalid symbol spec: %q", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || price <= 0 {
			log.Printf("[tickserver] skipping %q: bad price", part)
			continue
		}
		result = append(result, &instrument{Symbol: strings.TrimSpace(seg[0]), Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
