package bridge

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// result is one callback outcome handed from the native goroutine to Next.
type result struct {
	rec *winlog.EventRecord
	err error
}

// Session is one read of one channel. It implements winlog.Stream.
//
// State machine: Idle -> Reading -> {Exhausted, Failed, Cancelled} -> Closed.
// Only one goroutine should consume a session; Close may be called from any goroutine.
type Session struct {
	id       string
	channel  string
	nativeID string
	opts     winlog.ReadOptions
	reader   winlog.NativeReader
	logger   *slog.Logger
	created  time.Time

	mu        sync.Mutex
	state     winlog.SessionState
	closed    bool
	dispose   winlog.DisposeFunc
	err       error
	delivered uint64

	// demand carries at most one outstanding pull; the callback waits on it
	demand chan struct{}
	// results is unbuffered so a record is handed over only to a waiting Next
	results chan result
	done    chan struct{}

	releaseOnce sync.Once
}

func newSession(reader winlog.NativeReader, channel, nativeID string, opts winlog.ReadOptions, logger *slog.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		channel:  channel,
		nativeID: nativeID,
		opts:     opts,
		reader:   reader,
		logger:   logger.With(slog.String(log.SessionIDKey, id), slog.String(log.ChannelKey, channel)),
		created:  time.Now().UTC(),
		state:    winlog.StateIdle,
		demand:   make(chan struct{}, 1),
		results:  make(chan result),
		done:     make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Channel returns the logical channel name.
func (s *Session) Channel() string {
	return s.channel
}

// NativeID returns the native log identifier the channel resolved to.
func (s *Session) NativeID() string {
	return s.nativeID
}

// Options returns the effective read options.
func (s *Session) Options() winlog.ReadOptions {
	return s.opts
}

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// State returns the lifecycle state. Released sessions report StateClosed.
func (s *Session) State() winlog.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return winlog.StateClosed
	}
	return s.state
}

// Outcome returns the state the session ended in (Exhausted, Failed or
// Cancelled), or the current state while it is still open.
func (s *Session) Outcome() winlog.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Delivered returns the number of records handed to the consumer.
func (s *Session) Delivered() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// Err returns the native error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has been released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Next returns the next record. The first call starts the native read.
// It returns io.EOF after the terminal marker, a *winlog.NativeError if the
// reader failed, and winlog.ErrSessionClosed after Close. Cancelling ctx
// while waiting cancels the whole session.
func (s *Session) Next(ctx context.Context) (*winlog.EventRecord, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		err := s.terminalErrLocked()
		s.mu.Unlock()
		return nil, err
	case s.state == winlog.StateIdle:
		if err := s.startLocked(); err != nil {
			s.mu.Unlock()
			s.release(winlog.StateFailed)
			return nil, err
		}
	}
	s.mu.Unlock()

	select {
	case s.demand <- struct{}{}:
	default:
	}

	select {
	case r := <-s.results:
		if r.err != nil {
			nerr := &winlog.NativeError{Channel: s.channel, Err: r.err}
			s.mu.Lock()
			s.err = nerr
			s.mu.Unlock()
			s.release(winlog.StateFailed)
			return nil, nerr
		}
		if r.rec == nil {
			s.release(winlog.StateExhausted)
			return nil, io.EOF
		}
		s.mu.Lock()
		s.delivered++
		s.mu.Unlock()
		return r.rec, nil

	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return nil, s.terminalErrLocked()

	case <-ctx.Done():
		s.release(winlog.StateCancelled)
		return nil, ctx.Err()
	}
}

// All returns a range-over-func view of the session. Leaving the loop for
// any reason, including a panic in the loop body, closes the session.
func (s *Session) All(ctx context.Context) iter.Seq2[*winlog.EventRecord, error] {
	return func(yield func(*winlog.EventRecord, error) bool) {
		defer s.Close()
		for {
			rec, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close ends the session early and disposes the native read.
// It is idempotent and never fails.
func (s *Session) Close() error {
	s.release(winlog.StateCancelled)
	return nil
}

// startLocked starts the native read. Callers must hold s.mu.
func (s *Session) startLocked() error {
	s.state = winlog.StateReading
	dispose, err := s.reader.StartRead(s.nativeID, s.opts.Query, s.opts.IsReverse(), s.onEvent)
	if err != nil {
		s.err = &winlog.NativeError{Channel: s.channel, Err: err}
		return s.err
	}
	s.dispose = winlog.OnceDispose(dispose)

	s.logger.Debug("native read started",
		slog.String("native_id", s.nativeID),
		slog.String("direction", string(s.opts.Direction)))
	return nil
}

// onEvent is the single callback entry point registered with the reader.
// It runs on the reader's goroutine and parks until the consumer asks for a
// record or the session is released.
func (s *Session) onEvent(rec *winlog.EventRecord, err error) {
	select {
	case <-s.demand:
	case <-s.done:
		return
	}

	select {
	case s.results <- result{rec: rec, err: err}:
	case <-s.done:
	}
}

// release moves the session to its terminal state and disposes the native read
// before returning.
// Only the first call has any effect; the first cause wins.
func (s *Session) release(cause winlog.SessionState) {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		if s.state == winlog.StateIdle || s.state == winlog.StateReading {
			s.state = cause
		}
		dispose := s.dispose
		s.dispose = nil
		s.mu.Unlock()

		// Unpark callbacks first: a reader's dispose may wait for its
		// delivery goroutine, which is blocked in onEvent until done closes.
		// Callbacks arriving after this point are dropped.
		close(s.done)
		if dispose != nil {
			dispose()
		}

		s.mu.Lock()
		s.closed = true
		outcome, delivered, err := s.state, s.delivered, s.err
		s.mu.Unlock()

		attrs := []any{
			slog.String("outcome", outcome.String()),
			slog.Uint64("delivered", delivered),
		}
		if err != nil {
			attrs = append(attrs, log.Err(err))
		}
		s.logger.Debug("session released", attrs...)
	})
}

// terminalErrLocked returns the error Next reports after the session ended.
func (s *Session) terminalErrLocked() error {
	switch s.state {
	case winlog.StateExhausted:
		return io.EOF
	case winlog.StateFailed:
		return s.err
	default:
		return winlog.ErrSessionClosed
	}
}

// Verify that Session implements the Stream interface at compile time
var _ winlog.Stream = (*Session)(nil)
