package winlog

import (
	"context"
	"io"
	"iter"
	"sync"
)

// Callback receives one result from a NativeReader. Exactly one outcome applies per call:
//   - err != nil: the read failed; no further results follow
//   - rec != nil: one decoded record
//   - rec == nil && err == nil: the terminal marker, the read has no more records
//
// A callback may block; the reader must not call it again until it returns.
type Callback func(rec *EventRecord, err error)

// DisposeFunc requests early termination of a native read.
// It is safe to call more than once and after the read has completed.
// It may wait for the reader's delivery goroutine to exit: once a session is
// released, outstanding and later callbacks return without blocking.
type DisposeFunc func()

// OnceDispose wraps fn so that only the first call has an effect.
func OnceDispose(fn DisposeFunc) DisposeFunc {
	if fn == nil {
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(fn)
	}
}

// NativeReader performs the OS-level query and decoding for a channel and
// pushes results through a Callback.
type NativeReader interface {
	// StartRead opens channelID and begins delivering matching records to cb,
	// newest first when reverse is set. The query is passed through uninterpreted.
	// Work happens off the calling goroutine: cb is never invoked before StartRead returns.
	StartRead(channelID, query string, reverse bool, cb Callback) (DisposeFunc, error)
}

// SessionState is the lifecycle state of a read session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateReading
	StateExhausted
	StateFailed
	StateCancelled
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateReading:
		return "Reading"
	case StateExhausted:
		return "Exhausted"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Stream is a single-pass, non-restartable sequence of records from one channel.
// It is intended for a single consumer.
type Stream interface {
	io.Closer

	// ID returns the unique identifier of the underlying read session.
	ID() string

	// Channel returns the logical channel name the stream was opened with.
	Channel() string

	// Options returns the effective read options.
	Options() ReadOptions

	// Next blocks until the next record is available. It returns io.EOF once the
	// channel is exhausted and a *NativeError if the reader failed.
	// Cancelling ctx ends the session.
	Next(ctx context.Context) (*EventRecord, error)

	// All returns a range-over-func view of the stream. Leaving the loop early,
	// normally or by panic, closes the stream.
	All(ctx context.Context) iter.Seq2[*EventRecord, error]

	// State returns the current lifecycle state.
	State() SessionState

	// Done is closed once the session has been released.
	Done() <-chan struct{}
}
