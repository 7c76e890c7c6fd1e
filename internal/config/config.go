// Package config loads the winlogd daemon configuration from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// Source kinds
const (
	SourceMemory = "memory"
	SourceFile   = "file"
)

var (
	// ErrMissingSecret is returned when auth is enabled without a signing key
	ErrMissingSecret = errors.New("server.secret_key is required unless no_auth is set")
	// ErrInvalidSource is returned for an unknown source kind
	ErrInvalidSource = errors.New("source.kind must be memory or file")
	// ErrMissingSourceDir is returned when the file source has no directory
	ErrMissingSourceDir = errors.New("source.dir is required for the file source")
)

// Config is the top-level daemon configuration.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Source   SourceConfig      `yaml:"source"`
	Channels map[string]string `yaml:"channels"`
	Read     ReadConfig        `yaml:"read"`
	Log      LogConfig         `yaml:"log"`
}

// ServerConfig holds listener and authentication settings.
type ServerConfig struct {
	// HTTPAddr is the HTTP API listen address, empty disables it
	HTTPAddr string `yaml:"http_addr"`

	// GRPCAddr is the gRPC listen address, empty disables it
	GRPCAddr string `yaml:"grpc_addr"`

	// SecretKey signs bearer tokens
	SecretKey string `yaml:"secret_key"`

	// NoAuth disables token checks on every endpoint
	NoAuth bool `yaml:"no_auth"`

	// TokenTTL is how long issued tokens stay valid
	TokenTTL time.Duration `yaml:"token_ttl"`

	// Clients restricts login to known client IDs when non-empty
	Clients map[string]ClientConfig `yaml:"clients"`
}

// ClientConfig describes one client allowed to log in.
type ClientConfig struct {
	// PasswordHash is a bcrypt hash; empty means no password is required
	PasswordHash string `yaml:"password_hash"`
	Admin        bool   `yaml:"admin"`
}

// SourceConfig selects the native reader.
type SourceConfig struct {
	// Kind is memory or file
	Kind string `yaml:"kind"`

	// Dir is the export directory for the file source
	Dir string `yaml:"dir"`

	// Seed fills the memory source with demo records
	Seed bool `yaml:"seed"`
}

// ReadConfig holds session limits.
type ReadConfig struct {
	DefaultDirection string `yaml:"default_direction"`
	MaxSessions      int    `yaml:"max_sessions"`
	BatchLimit       int    `yaml:"batch_limit"`
	MaxBatchLimit    int    `yaml:"max_batch_limit"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
			TokenTTL: 24 * time.Hour,
		},
		Source: SourceConfig{
			Kind: SourceMemory,
			Seed: true,
		},
		Read: ReadConfig{
			DefaultDirection: string(winlog.Reverse),
			MaxSessions:      64,
			BatchLimit:       100,
			MaxBatchLimit:    1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from WINLOG_* environment variables.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("WINLOG_SECRET_KEY"); v != "" {
		cfg.Server.SecretKey = v
	}
	if v := os.Getenv("WINLOG_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("WINLOG_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("WINLOG_SOURCE_DIR"); v != "" {
		cfg.Source.Kind = SourceFile
		cfg.Source.Dir = v
	}
	if v := os.Getenv("WINLOG_NO_AUTH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WINLOG_NO_AUTH: %w", err)
		}
		cfg.Server.NoAuth = b
	}
	if v := os.Getenv("WINLOG_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WINLOG_MAX_SESSIONS: %w", err)
		}
		cfg.Read.MaxSessions = n
	}
	if v := os.Getenv("WINLOG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		return errors.New("at least one of server.http_addr or server.grpc_addr is required")
	}
	if !c.Server.NoAuth && c.Server.SecretKey == "" {
		return ErrMissingSecret
	}
	if c.Server.TokenTTL <= 0 {
		return fmt.Errorf("server.token_ttl must be positive, got %s", c.Server.TokenTTL)
	}
	for id := range c.Server.Clients {
		if strings.TrimSpace(id) == "" {
			return errors.New("server.clients: client ID cannot be empty")
		}
	}

	switch c.Source.Kind {
	case SourceMemory:
	case SourceFile:
		if c.Source.Dir == "" {
			return ErrMissingSourceDir
		}
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidSource, c.Source.Kind)
	}

	if _, err := winlog.NewChannelTable(c.Channels); err != nil {
		return err
	}
	if _, err := winlog.ParseDirection(c.Read.DefaultDirection); err != nil {
		return fmt.Errorf("read.default_direction: %w", err)
	}
	if c.Read.MaxSessions < 0 {
		return fmt.Errorf("read.max_sessions cannot be negative, got %d", c.Read.MaxSessions)
	}
	if c.Read.BatchLimit <= 0 || c.Read.MaxBatchLimit <= 0 || c.Read.BatchLimit > c.Read.MaxBatchLimit {
		return fmt.Errorf("read.batch_limit must be between 1 and read.max_batch_limit (%d), got %d",
			c.Read.MaxBatchLimit, c.Read.BatchLimit)
	}
	return nil
}

// DefaultDirection returns the parsed read.default_direction.
func (c *Config) DefaultDirection() winlog.Direction {
	d, err := winlog.ParseDirection(c.Read.DefaultDirection)
	if err != nil {
		return winlog.Reverse
	}
	return d
}
