package database

import (
	"sync"
	"sync/atomic"

	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

// Recorder mirrors sink events into a Provider from a single writer
// goroutine. Observe never blocks: when the queue is full the event is
// dropped and counted.
type Recorder struct {
	provider Provider
	queue    chan logging.Event
	done     chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	written atomic.Int64
}

func NewRecorder(provider Provider, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 1
	}
	r := &Recorder{
		provider: provider,
		queue:    make(chan logging.Event, queueSize),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) Observe(ev logging.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped is the number of events lost to a full queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written is the number of events stored successfully.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Close stops accepting events, drains the queue and waits for the writer.
// It does not close the provider.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	failing := false
	for ev := range r.queue {
		if err := r.provider.InsertEvent(ev); err != nil {
			// One report per failure streak; the report itself comes back
			// through the sink and is dropped by the same failure.
			if !failing {
				failing = true
				logging.Error("[store] failed to record event: %v", err)
			}
			continue
		}
		failing = false
		r.written.Add(1)
	}
}
