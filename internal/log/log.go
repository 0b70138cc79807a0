// Package log provides the logging infrastructure shared by all penna
// components.
//
// Loggers are injected, never global: each component receives a *slog.Logger
// via its constructor and may add context with logger.With(). Tests use
// NewNop() or NewWithWriter() with a buffer to assert on output.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo.
	Level slog.Level

	// JSON enables JSON output. Default: false (text format).
	JSON bool

	// AddSource adds source file information to log entries.
	AddSource bool
}

// New creates a logger writing to os.Stderr with the given configuration.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger that writes to w.
// Useful for tests that want to inspect log output.
func NewWithWriter(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Tests only; production
// code should always use New() or NewWithWriter().
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
