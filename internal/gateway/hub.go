// Package gateway is the control surface: a WebSocket endpoint through
// which each client starts and steers one session and receives its
// events, plus a few read-only REST endpoints.
package gateway

import (
	"context"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"optionscalp/internal/logger"
	"optionscalp/internal/session"
	sqlitestore "optionscalp/internal/store/sqlite"
)

// Controller starts and steers sessions. *session.Manager implements it.
type Controller interface {
	Start(ctx context.Context, req session.StartRequest, sink session.EventSink) (*session.Session, error)
	Get(id string) (*session.Session, bool)
	Sessions() []*session.Session
	Pause(id string) error
	Resume(id string) error
	SetReplaySpeed(id string, d time.Duration) error
	Stop(ctx context.Context, id string) (session.Report, error)
}

// TradeLister reads the trade journal.
type TradeLister interface {
	GetTrades(ctx context.Context, session string, limit int) ([]sqlitestore.TradeRecord, error)
}

// Options configures a Hub.
type Options struct {
	// TOTPSecret, when set, requires ?otp=<code> on the /ws handshake.
	TOTPSecret string
	// AllowedOrigins restricts the WebSocket Origin header. Empty allows all.
	AllowedOrigins []string
	Journal        TradeLister // optional, serves /api/trades
	SendBuffer     int         // per-client queue; default 256
	BacklogSize    int         // envelopes kept for resync; default 500
}

// Hub tracks connected control clients.
type Hub struct {
	ctl      Controller
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool

	Latency *LatencyTracker
	started time.Time
	now     func() time.Time

	// OnDrop is called when an envelope is dropped for a slow client.
	OnDrop func()
}

// NewHub creates a hub over ctl.
func NewHub(ctl Controller, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.BacklogSize <= 0 {
		opts.BacklogSize = 500
	}
	h := &Hub{
		ctl:     ctl,
		opts:    opts,
		clients: make(map[*Client]bool),
		Latency: NewLatencyTracker(10000),
		started: time.Now(),
		now:     time.Now,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:       h.checkOrigin,
		EnableCompression: true,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.opts.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// HandleWS authenticates and upgrades a control connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.opts.TOTPSecret != "" && !validOTP(h.opts.TOTPSecret, r.URL.Query().Get("otp"), h.now()) {
		log.Printf("[gateway] rejected %s: bad or missing otp", r.RemoteAddr)
		http.Error(w, `{"error":"invalid otp"}`, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	conn.EnableWriteCompression(true)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:      logger.ConnID(r.RemoteAddr, h.now()),
		conn:    conn,
		send:    make(chan outbound, h.opts.SendBuffer),
		hub:     h,
		backlog: newBacklog(h.opts.BacklogSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] client %s connected (%d total)", c.id, count)

	go c.writePump()
	go c.readPump()
}

// RemoveClient unregisters c and stops the session it owns.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}

	id := c.close()
	if id == "" {
		return
	}
	ctx := logger.WithSession(context.Background(), id)
	if _, err := h.ctl.Stop(ctx, id); err == nil {
		log.Printf("[gateway] client %s gone, stopped session %s", c.id, id)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sessions lists running sessions, sorted by id.
func (h *Hub) Sessions() []SessionInfo {
	ss := h.ctl.Sessions()
	out := make([]SessionInfo, 0, len(ss))
	for _, s := range ss {
		idx, ce, pe := s.Symbols()
		out = append(out, SessionInfo{
			ID:     s.ID(),
			Mode:   s.Mode(),
			Index:  idx,
			CE:     ce,
			PE:     pe,
			Trades: len(s.Trades()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close disconnects every client, which stops their sessions.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
