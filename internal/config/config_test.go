package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "winlogd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Server.SecretKey = "test-secret"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 24*time.Hour, cfg.Server.TokenTTL)
	assert.Equal(t, SourceMemory, cfg.Source.Kind)
	assert.Equal(t, winlog.Reverse, cfg.DefaultDirection())

	// Defaults require a secret unless auth is disabled
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSecret)
	cfg.Server.NoAuth = true
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("empty_path_returns_defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("yaml_overrides_defaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8181"
  secret_key: "s3cret"
  token_ttl: 2h
  clients:
    ops:
      password_hash: "$2a$10$abcdefghijklmnopqrstuv"
      admin: true
source:
  kind: file
  dir: /var/exports
channels:
  Sysmon: Microsoft-Windows-Sysmon/Operational
read:
  default_direction: forward
  max_sessions: 8
log:
  level: debug
  format: json
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:8181", cfg.Server.HTTPAddr)
		assert.Equal(t, ":9090", cfg.Server.GRPCAddr, "unset fields keep their defaults")
		assert.Equal(t, 2*time.Hour, cfg.Server.TokenTTL)
		assert.True(t, cfg.Server.Clients["ops"].Admin)
		assert.Equal(t, SourceFile, cfg.Source.Kind)
		assert.Equal(t, "/var/exports", cfg.Source.Dir)
		assert.Equal(t, "Microsoft-Windows-Sysmon/Operational", cfg.Channels["Sysmon"])
		assert.Equal(t, winlog.Forward, cfg.DefaultDirection())
		assert.Equal(t, 8, cfg.Read.MaxSessions)
		assert.Equal(t, 100, cfg.Read.BatchLimit)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [unclosed"))
		assert.Error(t, err)
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("WINLOG_SECRET_KEY", "from-env")
	t.Setenv("WINLOG_HTTP_ADDR", ":18080")
	t.Setenv("WINLOG_GRPC_ADDR", ":19090")
	t.Setenv("WINLOG_SOURCE_DIR", "/exports")
	t.Setenv("WINLOG_NO_AUTH", "true")
	t.Setenv("WINLOG_MAX_SESSIONS", "3")
	t.Setenv("WINLOG_LOG_LEVEL", "warn")

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))

	assert.Equal(t, "from-env", cfg.Server.SecretKey)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":19090", cfg.Server.GRPCAddr)
	assert.Equal(t, SourceFile, cfg.Source.Kind)
	assert.Equal(t, "/exports", cfg.Source.Dir)
	assert.True(t, cfg.Server.NoAuth)
	assert.Equal(t, 3, cfg.Read.MaxSessions)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Run("no_auth", func(t *testing.T) {
		t.Setenv("WINLOG_NO_AUTH", "maybe")
		assert.Error(t, ApplyEnv(Default()))
	})
	t.Run("max_sessions", func(t *testing.T) {
		t.Setenv("WINLOG_MAX_SESSIONS", "lots")
		assert.Error(t, ApplyEnv(Default()))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"no_listeners", func(c *Config) { c.Server.HTTPAddr, c.Server.GRPCAddr = "", "" }, nil},
		{"bad_ttl", func(c *Config) { c.Server.TokenTTL = 0 }, nil},
		{"empty_client_id", func(c *Config) { c.Server.Clients = map[string]ClientConfig{" ": {}} }, nil},
		{"bad_source", func(c *Config) { c.Source.Kind = "etw" }, ErrInvalidSource},
		{"file_without_dir", func(c *Config) { c.Source.Kind = SourceFile }, ErrMissingSourceDir},
		{"redefined_builtin", func(c *Config) { c.Channels = map[string]string{"Security": "Other"} }, winlog.ErrInvalidChannelTable},
		{"bad_direction", func(c *Config) { c.Read.DefaultDirection = "sideways" }, winlog.ErrInvalidDirection},
		{"negative_sessions", func(c *Config) { c.Read.MaxSessions = -1 }, nil},
		{"batch_over_max", func(c *Config) { c.Read.BatchLimit = 5000 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.name == "valid" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
