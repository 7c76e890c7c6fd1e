// Package log provides structured logging for winlog services.
// It is a thin layer over log/slog: every component receives a *slog.Logger
// tagged with its component name, and request-scoped loggers travel in a context.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Standard field keys used across components.
const (
	ComponentKey = "component"
	SessionIDKey = "session_id"
	ChannelKey   = "channel"
	ClientIDKey  = "client_id"
	RequestIDKey = "request_id"
	ErrorKey     = "error"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config configures a logger.
type Config struct {
	Level  string
	Format Format
	Output io.Writer
}

// SetDefaults sets reasonable default values for Config
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatText
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
}

// ParseLevel converts a level name to a slog.Level.
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
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates a logger from the given configuration.
func New(config Config) (*slog.Logger, error) {
	config.SetDefaults()

	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	case FormatText:
		handler = slog.NewTextHandler(config.Output, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	return slog.New(handler), nil
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// WithComponent tags logger with a component name. A nil logger yields Nop().
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = Nop()
	}
	return logger.With(slog.String(ComponentKey, component))
}

// Err returns the standard attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(ErrorKey, "")
	}
	return slog.String(ErrorKey, err.Error())
}

type loggerKey struct{}

// NewContext returns a context carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or fallback when there is none.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback == nil {
		return Nop()
	}
	return fallback
}
