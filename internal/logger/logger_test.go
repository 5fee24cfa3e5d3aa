package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger, closer := Init(Options{Service: "test-service", Level: slog.LevelInfo})
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestInitTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalp.log")
	logger, closer := Init(Options{Service: "scalp", Level: slog.LevelDebug, File: path})
	logger.Info("session started", slog.String("session", "s1"))
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"session started"`, `"service":"scalp"`, `"session":"s1"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := SessionID(ctx); id != "" {
		t.Errorf("expected empty session id, got %q", id)
	}
	if attrs := Attrs(ctx); attrs != nil {
		t.Errorf("expected nil attrs, got %v", attrs)
	}

	ctx = WithSession(ctx, "abc-123")
	if id := SessionID(ctx); id != "abc-123" {
		t.Errorf("expected 'abc-123', got %q", id)
	}
	if attrs := Attrs(ctx); len(attrs) != 1 {
		t.Errorf("expected one attr, got %v", attrs)
	}
}

func TestConnID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	id := ConnID("127.0.0.1:5555", ts)
	if !strings.HasPrefix(id, "127.0.0.1:5555-") || !strings.HasSuffix(id, "123456789") {
		t.Errorf("ConnID = %s", id)
	}
}
