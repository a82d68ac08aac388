package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one line per request through chi's request logger.
// Server errors are logged at error level and client errors as warnings.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&slogFormatter{log: log})
}

type slogFormatter struct {
	log *slog.Logger
}

func (f *slogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &slogEntry{log: f.log.With(
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
	)}
}

type slogEntry struct {
	log *slog.Logger
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	e.log.Log(context.Background(), level, "request",
		"status", status,
		"bytes", bytes,
		"duration_ms", elapsed.Milliseconds(),
	)
}

// Panic is called by middleware.Recoverer when a handler panics.
func (e *slogEntry) Panic(v any, stack []byte) {
	e.log.Error("handler panic", "panic", v, "stack", string(stack))
}
