// Package logger sets up structured logging with log/slog. Output is JSON
// on stdout, optionally teed to a size-rotated file, and the standard log
// package is routed through the same handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const sessionKey ctxKey = "session"

// Options configures Init.
type Options struct {
	Service string
	Level   slog.Level
	File    string // optional; rotated at MaxSizeMB
	// MaxSizeMB and MaxBackups bound the rotated file. Zero uses 50MB and 5.
	MaxSizeMB  int
	MaxBackups int
}

// Init creates the process logger, installs it as the slog default and
// returns a closer for the log file (a no-op without one).
func Init(opts Options) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 50
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 5
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, lj)
		closer = lj
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: opts.Level,
	})

	logger := slog.New(handler).With(
		slog.String("service", opts.Service),
	)

	// log.Printf callers end up in the same JSON stream.
	slog.SetDefault(logger)

	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel maps debug, info, warn and error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// WithSession stores a session id in the context.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// SessionID extracts the session id from context. Returns "" if not set.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}

// ConnID names a control connection from its remote address and accept time.
func ConnID(remote string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", remote, ts.UnixNano())
}

// Attrs returns slog attributes carrying the session id from context.
// Usage: slog.Info("msg", logger.Attrs(ctx)...)
func Attrs(ctx context.Context) []any {
	id := SessionID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("session", id)}
}
