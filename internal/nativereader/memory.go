// Package nativereader provides winlog.NativeReader implementations that do
// not depend on the Windows event-log API: an in-memory store and a reader for
// exported channel files. Both interpret the query as a CEL expression and
// deliver results on their own goroutine, one callback at a time.
package nativereader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

var (
	// ErrNilRecord is returned when a nil record is appended
	ErrNilRecord = errors.New("record cannot be nil")
	// ErrReaderClosed is returned when reading from a closed reader
	ErrReaderClosed = errors.New("reader is closed")
	// ErrInvalidQuery is delivered through the callback when a query does not compile
	ErrInvalidQuery = errors.New("invalid query")
	// ErrChannelUnavailable is delivered through the callback when a channel cannot be opened
	ErrChannelUnavailable = errors.New("channel unavailable")
)

// failure is an injected mid-stream error.
type failure struct {
	after int
	err   error
}

// Memory implements winlog.NativeReader over in-memory, channel-partitioned storage.
// Each channel has its own EventRecordID sequence starting from 1.
// It is safe for concurrent use.
type Memory struct {
	mu                    sync.RWMutex
	recordsByChannel      map[string][]*winlog.EventRecord // native id -> records, ascending EventRecordID
	nextRecordIDByChannel map[string]uint64                // native id -> next EventRecordID
	failures              map[string]failure
	closed                bool
	wg                    sync.WaitGroup
}

// NewMemory creates an empty in-memory reader.
func NewMemory() *Memory {
	return &Memory{
		recordsByChannel:      make(map[string][]*winlog.EventRecord),
		nextRecordIDByChannel: make(map[string]uint64),
		failures:              make(map[string]failure),
	}
}

// Append stores a copy of rec in channelID, assigning the next EventRecordID.
// The Channel field is set to channelID when empty. The stored record is returned.
func (m *Memory) Append(ctx context.Context, channelID string, rec *winlog.EventRecord) (*winlog.EventRecord, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrReaderClosed
	}

	stored := rec.Clone()
	m.nextRecordIDByChannel[channelID]++
	stored.EventRecordID = m.nextRecordIDByChannel[channelID]
	if stored.Channel == "" {
		stored.Channel = channelID
	}

	m.recordsByChannel[channelID] = append(m.recordsByChannel[channelID], stored)
	return stored, nil
}

// Len returns the number of records stored for channelID.
func (m *Memory) Len(channelID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recordsByChannel[channelID])
}

// FailWith makes reads of channelID deliver err after `after` matching records.
// A nil err removes the injected failure.
func (m *Memory) FailWith(channelID string, after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, channelID)
		return
	}
	m.failures[channelID] = failure{after: after, err: err}
}

// StartRead delivers the records of channelID that match query, newest first
// when reverse is set. A channel with no records reads as empty.
func (m *Memory) StartRead(channelID, query string, reverse bool, cb winlog.Callback) (winlog.DisposeFunc, error) {
	if cb == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrReaderClosed
	}
	// Copy the channel slice header so appends during the read are not observed
	snapshot := append([]*winlog.EventRecord(nil), m.recordsByChannel[channelID]...)
	fail, hasFailure := m.failures[channelID]
	m.wg.Add(1)
	m.mu.RUnlock()

	stop := make(chan struct{})
	go func() {
		defer m.wg.Done()

		filter, err := CompileQuery(query)
		if err != nil {
			cb(nil, err)
			return
		}

		delivered := 0
		for i := range snapshot {
			rec := snapshot[i]
			if reverse {
				rec = snapshot[len(snapshot)-1-i]
			}

			select {
			case <-stop:
				return
			default:
			}

			ok, err := filter.Match(rec)
			if err != nil {
				cb(nil, err)
				return
			}
			if !ok {
				continue
			}

			if hasFailure && delivered == fail.after {
				cb(nil, fail.err)
				return
			}
			// Sessions get their own copy so consumers cannot alter the store
			cb(rec.Clone(), nil)
			delivered++
		}

		select {
		case <-stop:
			return
		default:
		}
		if hasFailure && delivered == fail.after {
			cb(nil, fail.err)
			return
		}
		cb(nil, nil)
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
	}, nil
}

// CheckHealth reports ErrReaderClosed once the reader is closed.
func (m *Memory) CheckHealth(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrReaderClosed
	}
	return ctx.Err()
}

// Close rejects further reads and appends and waits for running reads to stop.
// Running reads stop once their consumers dispose them.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed, idempotent
	}
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.recordsByChannel = make(map[string][]*winlog.EventRecord)
	m.nextRecordIDByChannel = make(map[string]uint64)
	m.mu.Unlock()
	return nil
}

// Verify that Memory implements the NativeReader interface at compile time
var _ winlog.NativeReader = (*Memory)(nil)
