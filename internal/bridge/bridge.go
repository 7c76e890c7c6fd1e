// Package bridge turns a callback-driven winlog.NativeReader into pull-based
// winlog.Stream sessions.
//
// Each session owns exactly one native read. The native goroutine hands records
// over through a single-slot, demand-driven exchange: a callback parks until the
// consumer asks for the next record, so at most one record is in flight and
// order is preserved. Every exit path (exhaustion, native error, Close, or a
// cancelled pull) runs the same release routine, which invokes the reader's
// dispose handle exactly once.
package bridge

import (
	"errors"
	"log/slog"

	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

var (
	// ErrNilReader is returned when a Bridge is created without a native reader
	ErrNilReader = errors.New("native reader cannot be nil")
)

// Config holds configuration for a Bridge
type Config struct {
	// Channels resolves logical channel names; defaults to winlog.DefaultChannels
	Channels *winlog.ChannelTable

	// Logger receives session lifecycle logs; defaults to a no-op logger
	Logger *slog.Logger
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Channels == nil {
		c.Channels = winlog.DefaultChannels
	}
	if c.Logger == nil {
		c.Logger = log.Nop()
	}
}

// Bridge opens read sessions against a native reader.
// It is safe for concurrent use; sessions never share state.
type Bridge struct {
	reader   winlog.NativeReader
	channels *winlog.ChannelTable
	logger   *slog.Logger
}

// New creates a Bridge over reader.
func New(reader winlog.NativeReader, config Config) (*Bridge, error) {
	if reader == nil {
		return nil, ErrNilReader
	}
	config.SetDefaults()

	return &Bridge{
		reader:   reader,
		channels: config.Channels,
		logger:   log.WithComponent(config.Logger, "bridge"),
	}, nil
}

// Channels returns the channel table the bridge validates against.
func (b *Bridge) Channels() *winlog.ChannelTable {
	return b.channels
}

// Open validates the channel and options and returns an idle session.
// The native read starts on the first call to Next. Validation failures are
// returned as *winlog.ConfigError and never reach the native reader.
func (b *Bridge) Open(channel string, opts winlog.ReadOptions) (*Session, error) {
	nativeID, err := b.channels.Lookup(channel)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return newSession(b.reader, channel, nativeID, opts.WithDefaults(), b.logger), nil
}
