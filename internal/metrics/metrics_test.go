package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TicksTotal.Inc()
	m.TradesClosed.WithLabelValues("TARGET").Inc()
	m.ActiveSessions.WithLabelValues("replay").Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"optionscalp_ticks_total",
		"optionscalp_trades_closed_total",
		"optionscalp_active_sessions",
		"optionscalp_redis_circuit_breaker_state",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestNewWithoutRegistry(t *testing.T) {
	// Two unregistered sets must not collide.
	a, b := New(nil), New(nil)
	a.TicksTotal.Inc()
	b.TicksTotal.Inc()
}

func TestHealthServeHTTP(t *testing.T) {
	tests := []struct {
		name     string
		sqlite   bool
		redis    bool
		wantCode int
		want     string
	}{
		{"healthy", true, true, http.StatusOK, "healthy"},
		{"redis down", true, false, http.StatusOK, "healthy"},
		{"sqlite down", false, true, http.StatusServiceUnavailable, "degraded"},
		{"both down", false, false, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthStatus()
			h.SQLiteOK = tc.sqlite
			h.RedisConnected = tc.redis
			h.SetSessions(3)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			var body struct {
				Status   string `json:"status"`
				Sessions int    `json:"sessions"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.want {
				t.Errorf("status = %q, want %q", body.Status, tc.want)
			}
			if body.Sessions != 3 {
				t.Errorf("sessions = %d, want 3", body.Sessions)
			}
		})
	}
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.PassesTotal.Add(4)

	srv := NewServer(":0", NewHealthStatus(), reg)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "optionscalp_passes_total 4") {
		t.Errorf("passes counter missing from exposition:\n%s", rec.Body.String())
	}
}
