package gateway

import (
	"encoding/json"
	"time"

	"optionscalp/internal/session"
)

// Command types accepted on /ws.
const (
	CmdStart  = "start"
	CmdPause  = "pause"
	CmdResume = "resume"
	CmdSpeed  = "speed"
	CmdStop   = "stop"
	CmdResync = "resync"
)

// Command is one control message from a client.
//
//	{"type":"start","req_id":"1","symbol":"NIFTY","mode":"replay","date":"2025-01-06"}
//	{"type":"speed","ms":250}
//	{"type":"resync","from_seq":41}
type Command struct {
	Type    string       `json:"type"`
	ReqID   string       `json:"req_id,omitempty"`
	Symbol  string       `json:"symbol,omitempty"`
	Mode    session.Mode `json:"mode,omitempty"`
	Date    string       `json:"date,omitempty"`
	MS      int          `json:"ms,omitempty"`
	FromSeq int64        `json:"from_seq,omitempty"`
}

// Ack confirms a command.
type Ack struct {
	Type    string `json:"type"` // always "ack"
	ReqID   string `json:"req_id,omitempty"`
	Command string `json:"command"`
	Session string `json:"session,omitempty"`
}

// ErrorMsg reports a rejected command. It shares the "error" type tag with
// session error events.
type ErrorMsg struct {
	Type  string `json:"type"` // always "error"
	ReqID string `json:"req_id,omitempty"`
	Error string `json:"error"`
}

// envelope is a session message stamped with the per-connection sequence
// number. A gap in seq tells the client to resync.
type envelope struct {
	Seq int64 `json:"seq"`
	session.Message
}

func encodeEnvelope(seq int64, m session.Message) ([]byte, error) {
	return json.Marshal(envelope{Seq: seq, Message: m})
}

// SessionInfo is the REST view of a running session.
type SessionInfo struct {
	ID     string       `json:"id"`
	Mode   session.Mode `json:"mode"`
	Index  string       `json:"index"`
	CE     string       `json:"ce"`
	PE     string       `json:"pe"`
	Trades int          `json:"trades"`
}

// Status is the /api/status payload.
type Status struct {
	Clients     int     `json:"clients"`
	Sessions    int     `json:"sessions"`
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	UptimeSec   int64   `json:"uptime_sec"`
	LatencyP50  float64 `json:"latency_p50_ms"`
	LatencyP95  float64 `json:"latency_p95_ms"`
	LatencyP99  float64 `json:"latency_p99_ms"`
	MarketOpen  bool    `json:"market_open"`
	Market      string  `json:"market_status"`
	TS          string  `json:"ts"`
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
