package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scalping engine.
type Metrics struct {
	TicksTotal     prometheus.Counter
	MalformedTicks prometheus.Counter
	CandlesClosed  prometheus.Counter
	Corrections    *prometheus.CounterVec // labels: result=applied|dropped

	// Evaluation
	PassesTotal    prometheus.Counter
	AdvanceDur     prometheus.Histogram
	DetectorFaults *prometheus.CounterVec // labels: strategy
	SignalsTotal   *prometheus.CounterVec // labels: strategy
	Rejected       *prometheus.CounterVec // labels: strategy

	// Trades
	TradesOpened prometheus.Counter
	TradesClosed *prometheus.CounterVec // labels: reason
	RealizedPnL  prometheus.Gauge

	// Transport
	FeedReconnects       prometheus.Counter
	HubDrops             *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name
	InstrumentFetches    prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedEvents      prometheus.Counter

	ActiveSessions *prometheus.GaugeVec // labels: mode
}

// New builds the metric set and registers it on reg. A nil reg leaves the
// collectors unregistered, which is what tests and headless runs want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_ticks_total",
			Help: "Ticks ingested by sessions",
		}),
		MalformedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_malformed_ticks_total",
			Help: "Ticks rejected for a missing or non-positive price",
		}),
		CandlesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_candles_closed_total",
			Help: "Candles closed by the aggregator",
		}),
		Corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optionscalp_corrections_total",
			Help: "Finalized-bar corrections by outcome",
		}, []string{"result"}),

		PassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_passes_total",
			Help: "Strategy evaluation passes run at candle boundaries",
		}),
		AdvanceDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optionscalp_advance_duration_seconds",
			Help:    "Latency of one session Advance",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		DetectorFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optionscalp_detector_faults_total",
			Help: "Detector panics recovered during evaluation",
		}, []string{"strategy"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optionscalp_signals_total",
			Help: "Signals admitted by strategy",
		}, []string{"strategy"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optionscalp_proposals_rejected_total",
			Help: "Proposals rejected by admission (cooldown, duplicate, risk)",
		}, []string{"strategy"}),

		TradesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_trades_opened_total",
			Help: "Paper trades opened",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optionscalp_trades_closed_total",
			Help: "Paper trades closed by exit reason",
		}, []string{"reason"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optionscalp_realized_pnl_points",
			Help: "Cumulative realized premium PnL across sessions",
		}),

		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_feed_reconnects_total",
			Help: "Tick feed reconnection attempts",
		}),
		HubDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optionscalp_hub_drops_total",
			Help: "Ticks dropped by the feed hub per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optionscalp_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		InstrumentFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_instrument_fetches_total",
			Help: "Instrument master downloads",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optionscalp_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optionscalp_redis_buffered_events_total",
			Help: "Events buffered locally while the Redis circuit breaker was open",
		}),

		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optionscalp_active_sessions",
			Help: "Running sessions by mode",
		}, []string{"mode"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TicksTotal,
			m.MalformedTicks,
			m.CandlesClosed,
			m.Corrections,
			m.PassesTotal,
			m.AdvanceDur,
			m.DetectorFaults,
			m.SignalsTotal,
			m.Rejected,
			m.TradesOpened,
			m.TradesClosed,
			m.RealizedPnL,
			m.FeedReconnects,
			m.HubDrops,
			m.ChannelSaturationPct,
			m.InstrumentFetches,
			m.RedisCircuitBreakerState,
			m.RedisCircuitBreakerTrips,
			m.RedisBufferedEvents,
			m.ActiveSessions,
		)
	}

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Sessions       int       `json:"sessions"`

	// Liveness check results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSessions(n int) {
	h.mu.Lock()
	h.Sessions = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(checkCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. Redis is optional for replay,
// so only a SQLite failure marks the process degraded.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		Sessions        int     `json:"sessions"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Sessions:        h.Sessions,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer may be nil for
// the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
