package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// step is one scripted callback; a zero step is the terminal marker.
type step struct {
	rec *winlog.EventRecord
	err error
}

func recordStep(id uint64) step {
	return step{rec: &winlog.EventRecord{EventID: 4624, ProviderName: "test", EventRecordID: id}}
}

func errorStep(err error) step {
	return step{err: err}
}

func endStep() step {
	return step{}
}

// scriptedReader replays a fixed list of callbacks on its own goroutine and
// records how the bridge drove it.
type scriptedReader struct {
	steps    []step
	startErr error
	// gate, when set, holds the goroutine back until it is closed
	gate chan struct{}

	starts    atomic.Int32
	disposes  atomic.Int32
	callbacks atomic.Int32

	mu          sync.Mutex
	lastChannel string
	lastQuery   string
	lastReverse bool
	finished    []chan struct{}
}

func newScriptedReader(steps ...step) *scriptedReader {
	return &scriptedReader{steps: steps}
}

func (r *scriptedReader) StartRead(channelID, query string, reverse bool, cb winlog.Callback) (winlog.DisposeFunc, error) {
	r.starts.Add(1)
	r.mu.Lock()
	r.lastChannel, r.lastQuery, r.lastReverse = channelID, query, reverse
	r.mu.Unlock()

	if r.startErr != nil {
		return nil, r.startErr
	}

	stop := make(chan struct{})
	finished := make(chan struct{})
	r.mu.Lock()
	r.finished = append(r.finished, finished)
	r.mu.Unlock()

	go func() {
		defer close(finished)
		if r.gate != nil {
			select {
			case <-r.gate:
			case <-stop:
				return
			}
		}
		for _, st := range r.steps {
			select {
			case <-stop:
				return
			default:
			}
			r.callbacks.Add(1)
			cb(st.rec, st.err)
		}
	}()

	var once sync.Once
	return func() {
		// Count every call so double disposal would be visible
		r.disposes.Add(1)
		once.Do(func() { close(stop) })
	}, nil
}

// waitFinished waits for every reader goroutine to exit.
func (r *scriptedReader) waitFinished(timeout time.Duration) bool {
	r.mu.Lock()
	finished := append([]chan struct{}(nil), r.finished...)
	r.mu.Unlock()

	deadline := time.After(timeout)
	for _, ch := range finished {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}

func (r *scriptedReader) args() (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastChannel, r.lastQuery, r.lastReverse
}
