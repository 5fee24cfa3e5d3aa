package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"optionscalp/internal/markethours"
)

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the control endpoint and REST routes on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/ws", hub.HandleWS)

	// REST: running sessions
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.Sessions())
	})

	// REST: journaled trades, ?session=<id>&limit=<n>
	mux.HandleFunc("/api/trades", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if hub.opts.Journal == nil {
			http.Error(w, `{"error":"no journal configured"}`, http.StatusNotFound)
			return
		}

		limit := 200
		if s := r.URL.Query().Get("limit"); s != "" {
			if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 1000 {
				limit = l
			}
		}
		trades, err := hub.opts.Journal.GetTrades(r.Context(), r.URL.Query().Get("session"), limit)
		if err != nil {
			log.Printf("[gateway] trades query: %v", err)
			http.Error(w, `{"error":"query failed"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(trades)
	})

	// REST: process and delivery status
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.Status())
	})
}

// Status snapshots the gateway and runtime.
func (h *Hub) Status() Status {
	now := h.now()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	st := Status{
		Clients:     h.ClientCount(),
		Sessions:    len(h.ctl.Sessions()),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		SysMB:       float64(ms.Sys) / 1024 / 1024,
		GCRuns:      ms.NumGC,
		UptimeSec:   int64(now.Sub(h.started) / time.Second),
		MarketOpen:  markethours.IsMarketOpen(now),
		Market:      markethours.StatusString(now),
		TS:          stamp(now),
	}
	st.LatencyP50, st.LatencyP95, st.LatencyP99 = h.Latency.Percentiles()
	return st
}
