package log

import (
	"log/slog"
	"os"
	"strings"
)

type options struct {
	level     slog.Level
	addSource bool
}

// Option configures the logger.
type Option func(*options)

// WithLevel sets the minimum level from a config string (debug/info/warn/error).
func WithLevel(level string) Option {
	return func(o *options) {
		switch strings.ToLower(level) {
		case "debug", "verbose", "all":
			o.level = slog.LevelDebug
		case "warn", "warning":
			o.level = slog.LevelWarn
		case "error":
			o.level = slog.LevelError
		default:
			o.level = slog.LevelInfo
		}
	}
}

// WithSource includes the caller position in each record.
func WithSource() Option {
	return func(o *options) {
		o.addSource = true
	}
}

// New creates a slog.Logger writing JSON to stdout.
func New(opts ...Option) *slog.Logger {
	o := &options{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(o)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     o.level,
		AddSource: o.addSource,
	})

	return slog.New(handler)
}
