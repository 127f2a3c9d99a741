// Package queue holds events between the instrumented code and the sender.
//
// Producers call Enqueue from request goroutines; it takes one short mutex
// critical section and never blocks on I/O. When the queue is at its bound the
// new event is rejected so that events already waiting are kept. The bound and
// the batch size are read from the current configuration snapshot on every
// call, so central configuration changes apply to the next event.
package queue

import (
	"errors"
	"sync"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/model"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of events.
type Queue struct {
	src config.SnapshotSource

	mu     sync.Mutex
	events []model.Event
	closed bool

	ready chan struct{}
}

// New creates an empty queue bounded by the snapshots of src.
func New(src config.SnapshotSource) *Queue {
	return &Queue{
		src:   src,
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends ev. It reports false when the queue is full, and
// ErrClosed once the queue has been closed.
func (q *Queue) Enqueue(ev model.Event) (bool, error) {
	snap := q.src.Load()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrClosed
	}
	if len(q.events) >= snap.MaxQueueEventCount {
		q.mu.Unlock()
		return false, nil
	}
	q.events = append(q.events, ev)
	full := len(q.events) >= snap.MaxBatchEventCount
	q.mu.Unlock()

	if full {
		q.signal()
	}
	return true, nil
}

// Ready receives a value when at least one batch is waiting. Signals are
// coalesced; the receiver must re-check Len.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Dequeue removes up to max events from the head.
func (q *Queue) Dequeue(max int) []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	if n == 0 || max <= 0 {
		return nil
	}
	if max < n {
		n = max
	}
	out := make([]model.Event, n)
	copy(out, q.events[:n])
	clear(q.events[:n])
	q.events = q.events[n:]
	if len(q.events) == 0 {
		// release the backing array once drained
		q.events = nil
	}
	return out
}

// Drain removes and returns every queued event.
func (q *Queue) Drain() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events. Queued events stay available to Dequeue.
// Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
