package demand

import (
	"context"
)

// DefaultQueueSize matches the event buffer of the state machine engine
const DefaultQueueSize = 100

// Queue funnels arrivals from any number of producers into the controller.
// Producers call Submit at any time; the controller drains what has been
// buffered so far during its ingesting phase, so counters never change while
// a cycle ranks and allocates.
type Queue struct {
	arrivals chan Arrival
}

// NewQueue creates a queue buffering up to size arrivals
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{arrivals: make(chan Arrival, size)}
}

// Submit enqueues an arrival, blocking while the buffer is full
func (q *Queue) Submit(ctx context.Context, a Arrival) error {
	select {
	case q.arrivals <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues an arrival if there is room and reports whether it did
func (q *Queue) TrySubmit(a Arrival) bool {
	select {
	case q.arrivals <- a:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered arrivals
func (q *Queue) Len() int {
	return len(q.arrivals)
}

// Collect implements Source by draining the buffered arrivals. Arrivals
// submitted while draining are left for the next cycle once the count
// observed at entry has been consumed.
func (q *Queue) Collect(ctx context.Context, _ []int, ing Ingestor) error {
	pending := len(q.arrivals)
	for i := 0; i < pending; i++ {
		select {
		case a := <-q.arrivals:
			_ = a.record(ing)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
