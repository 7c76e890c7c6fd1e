package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

var (
	// ErrNegativeMaxSessions is returned when MaxSessions is negative
	ErrNegativeMaxSessions = errors.New("max sessions cannot be negative")
)

// Config represents configuration for a Service
type Config struct {
	// Channels maps custom logical names to native identifiers, on top of the built-ins
	Channels map[string]string

	// MaxSessions caps concurrently open sessions; 0 means unlimited
	MaxSessions int

	// DefaultDirection applies when a caller leaves ReadOptions.Direction empty
	DefaultDirection winlog.Direction

	// Logger receives service and session logs
	Logger *slog.Logger
}

// NewConfig creates a configuration with safe defaults
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.DefaultDirection == "" {
		c.DefaultDirection = winlog.Reverse
	}
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.MaxSessions < 0 {
		return ErrNegativeMaxSessions
	}
	if c.DefaultDirection != winlog.Forward && c.DefaultDirection != winlog.Reverse {
		return &winlog.ConfigError{Field: "direction", Value: string(c.DefaultDirection), Err: winlog.ErrInvalidDirection}
	}
	if _, err := winlog.NewChannelTable(c.Channels); err != nil {
		return fmt.Errorf("invalid channel table: %w", err)
	}
	return nil
}

// WithChannels sets the custom channel mappings
func (c *Config) WithChannels(channels map[string]string) *Config {
	c.Channels = channels
	return c
}

// WithMaxSessions sets the concurrent session cap
func (c *Config) WithMaxSessions(n int) *Config {
	c.MaxSessions = n
	return c
}

// WithDefaultDirection sets the direction used when callers leave it empty
func (c *Config) WithDefaultDirection(d winlog.Direction) *Config {
	c.DefaultDirection = d
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}
