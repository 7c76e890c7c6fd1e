// Package service hosts read sessions for remote clients. It composes the
// channel table, a native reader and the bridge, tracks every open session,
// enforces the session cap and keeps running statistics.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/winlog-go/internal/bridge"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

var (
	// ErrServiceClosed is returned when opening a session on a closed service
	ErrServiceClosed = errors.New("service is closed")
	// ErrTooManySessions is returned when the session cap is reached
	ErrTooManySessions = errors.New("too many open sessions")
	// ErrNilConfig is returned when creating a service without configuration
	ErrNilConfig = errors.New("config cannot be nil")
)

// HealthChecker is implemented by native readers that can report their own health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// SessionInfo describes an open session.
type SessionInfo struct {
	ID        string
	ClientID  string
	Channel   string
	NativeID  string
	Direction winlog.Direction
	Query     string
	State     winlog.SessionState
	Delivered uint64
	CreatedAt time.Time
}

// Stats are cumulative counters since the service started.
type Stats struct {
	Opened           uint64
	Active           int
	Exhausted        uint64
	Failed           uint64
	Cancelled        uint64
	Rejected         uint64
	RecordsDelivered uint64
	Uptime           time.Duration
}

// HealthStatus represents the overall health of the service
type HealthStatus struct {
	// Healthy indicates if the service can open sessions
	Healthy bool

	// ReaderHealthy indicates if the native reader is operational
	ReaderHealthy bool

	// ActiveSessions is the number of open sessions
	ActiveSessions int

	// MaxSessions is the configured cap, 0 when unlimited
	MaxSessions int

	// Channels is the number of resolvable channels
	Channels int

	// Message provides additional health information
	Message string
}

// Batch is the result of a bounded read.
type Batch struct {
	Records []*winlog.EventRecord
	// Exhausted is set when the channel ended before the limit was reached
	Exhausted bool
}

type trackedSession struct {
	session  *bridge.Session
	clientID string
}

// Service tracks read sessions opened on behalf of clients.
type Service struct {
	mu       sync.RWMutex
	config   *Config
	reader   winlog.NativeReader
	bridge   *bridge.Bridge
	channels *winlog.ChannelTable
	logger   *slog.Logger
	started  time.Time

	sessions map[string]*trackedSession
	closed   bool
	watchers sync.WaitGroup

	stats Stats
}

// New creates a service over reader. The service does not own the reader.
func New(reader winlog.NativeReader, config *Config) (*Service, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	channels, err := winlog.NewChannelTable(config.Channels)
	if err != nil {
		return nil, err
	}
	b, err := bridge.New(reader, bridge.Config{Channels: channels, Logger: config.Logger})
	if err != nil {
		return nil, err
	}

	return &Service{
		config:   config,
		reader:   reader,
		bridge:   b,
		channels: channels,
		logger:   log.WithComponent(config.Logger, "service"),
		started:  time.Now(),
		sessions: make(map[string]*trackedSession),
	}, nil
}

// Channels returns the channel table sessions are validated against.
func (s *Service) Channels() *winlog.ChannelTable {
	return s.channels
}

// DefaultDirection returns the direction applied when callers leave it empty.
func (s *Service) DefaultDirection() winlog.Direction {
	return s.config.DefaultDirection
}

// Open opens a tracked session for clientID. Validation failures are returned
// as *winlog.ConfigError. The session stays tracked until it is released.
func (s *Service) Open(ctx context.Context, clientID, channel string, opts winlog.ReadOptions) (*bridge.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Direction == "" {
		opts.Direction = s.config.DefaultDirection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceClosed
	}
	if s.config.MaxSessions > 0 && len(s.sessions) >= s.config.MaxSessions {
		s.stats.Rejected++
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, s.config.MaxSessions)
	}

	session, err := s.bridge.Open(channel, opts)
	if err != nil {
		return nil, err
	}

	s.sessions[session.ID()] = &trackedSession{session: session, clientID: clientID}
	s.stats.Opened++
	s.watchers.Add(1)
	go s.watch(session)

	log.FromContext(ctx, s.logger).Info("session opened",
		slog.String(log.SessionIDKey, session.ID()),
		slog.String(log.ClientIDKey, clientID),
		slog.String(log.ChannelKey, channel),
		slog.String("direction", string(session.Options().Direction)))
	return session, nil
}

// watch unregisters a session once it is released and folds its outcome into the stats.
func (s *Service) watch(session *bridge.Session) {
	defer s.watchers.Done()
	<-session.Done()

	outcome := session.Outcome()
	delivered := session.Delivered()

	s.mu.Lock()
	tracked := s.sessions[session.ID()]
	delete(s.sessions, session.ID())
	switch outcome {
	case winlog.StateExhausted:
		s.stats.Exhausted++
	case winlog.StateFailed:
		s.stats.Failed++
	default:
		s.stats.Cancelled++
	}
	s.stats.RecordsDelivered += delivered
	s.mu.Unlock()

	attrs := []any{
		slog.String(log.SessionIDKey, session.ID()),
		slog.String("outcome", outcome.String()),
		slog.Uint64("delivered", delivered),
	}
	if tracked != nil {
		attrs = append(attrs, slog.String(log.ClientIDKey, tracked.clientID))
	}
	if err := session.Err(); err != nil {
		s.logger.Warn("session failed", append(attrs, log.Err(err))...)
		return
	}
	s.logger.Info("session closed", attrs...)
}

// ReadBatch reads at most limit records from channel and closes the session.
// A native error discards the partial batch.
func (s *Service) ReadBatch(ctx context.Context, clientID, channel string, opts winlog.ReadOptions, limit int) (Batch, error) {
	if limit <= 0 {
		return Batch{}, fmt.Errorf("limit must be positive, got %d", limit)
	}

	session, err := s.Open(ctx, clientID, channel, opts)
	if err != nil {
		return Batch{}, err
	}
	defer session.Close()

	batch := Batch{Records: make([]*winlog.EventRecord, 0, min(limit, 128))}
	for len(batch.Records) < limit {
		rec, err := session.Next(ctx)
		if errors.Is(err, io.EOF) {
			batch.Exhausted = true
			break
		}
		if err != nil {
			return Batch{}, err
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

// Sessions returns the open sessions ordered by creation time.
func (s *Service) Sessions() []SessionInfo {
	s.mu.RLock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, t := range s.sessions {
		opts := t.session.Options()
		infos = append(infos, SessionInfo{
			ID:        t.session.ID(),
			ClientID:  t.clientID,
			Channel:   t.session.Channel(),
			NativeID:  t.session.NativeID(),
			Direction: opts.Direction,
			Query:     opts.Query,
			State:     t.session.State(),
			Delivered: t.session.Delivered(),
			CreatedAt: t.session.CreatedAt(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.Active = len(s.sessions)
	st.Uptime = time.Since(s.started)
	return st
}

// Health reports whether the service and its reader are operational.
func (s *Service) Health(ctx context.Context) HealthStatus {
	s.mu.RLock()
	closed := s.closed
	active := len(s.sessions)
	s.mu.RUnlock()

	status := HealthStatus{
		ReaderHealthy:  true,
		ActiveSessions: active,
		MaxSessions:    s.config.MaxSessions,
		Channels:       len(s.channels.Names()),
	}

	if checker, ok := s.reader.(HealthChecker); ok {
		if err := checker.CheckHealth(ctx); err != nil {
			status.ReaderHealthy = false
			status.Message = fmt.Sprintf("native reader unhealthy: %v", err)
		}
	}

	switch {
	case closed:
		status.Message = "service is closed"
	case !status.ReaderHealthy:
	case s.config.MaxSessions > 0 && active >= s.config.MaxSessions:
		status.Message = "session limit reached"
	default:
		status.Message = "all components healthy"
	}
	status.Healthy = !closed && status.ReaderHealthy
	return status
}

// Close closes every open session and refuses new ones. It is idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]*bridge.Session, 0, len(s.sessions))
	for _, t := range s.sessions {
		open = append(open, t.session)
	}
	s.mu.Unlock()

	for _, session := range open {
		_ = session.Close()
	}
	s.watchers.Wait()

	s.logger.Info("service closed", slog.Int("sessions_closed", len(open)))
	return nil
}
