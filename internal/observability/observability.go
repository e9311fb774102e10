// Package observability constructs the structured logger and tracer the
// rest of the service injects through functional options. The tracer comes
// from the global OpenTelemetry provider; installing an exporting provider
// is the embedding process's responsibility, so a library consumer without
// one pays only for no-op spans.
package observability

import (
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/goap/internal/config"
)

// NewLogger builds a slog.Logger per the logging configuration. Debug mode
// forces the level down to debug regardless of the configured level.
func NewLogger(w io.Writer, cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := parseLevel(cfg.Level)
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// NewTracer returns the tracer for the service. Tracing disabled yields an
// explicit no-op tracer rather than relying on the global default.
func NewTracer(cfg config.TracingConfig) trace.Tracer {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer("goap")
	}
	name := cfg.ServiceName
	if name == "" {
		name = "goap"
	}
	return otel.Tracer(name)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
