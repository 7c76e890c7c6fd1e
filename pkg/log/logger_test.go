package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: FormatJSON, Output: &buf})
	require.NoError(t, err)

	WithComponent(logger, "bridge").Debug("session started",
		slog.String(SessionIDKey, "abc"), Err(errors.New("boom")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session started", entry["msg"])
	assert.Equal(t, "bridge", entry[ComponentKey])
	assert.Equal(t, "abc", entry[SessionIDKey])
	assert.Equal(t, "boom", entry[ErrorKey])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	fallback := Nop()
	assert.Same(t, fallback, FromContext(context.Background(), fallback))
	assert.NotNil(t, FromContext(context.Background(), nil))

	scoped := fallback.With(slog.String(RequestIDKey, "r1"))
	ctx := NewContext(context.Background(), scoped)
	assert.Same(t, scoped, FromContext(ctx, fallback))
}
