// Package queue holds the in-memory buffer between HTTP admission and the
// background consumer. It is a plain bounded channel: admission never blocks
// the request path, and overflow is reported to the caller instead of waited
// out.
package queue

import (
	"context"

	"github.com/baechuer/eventgate/internal/domain"
)

// DefaultCapacity is used when no explicit capacity is configured.
const DefaultCapacity = 10_000

type Queue struct {
	ch chan domain.Event
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan domain.Event, capacity)}
}

// Enqueue admits ev without blocking. It returns false when the buffer is
// full; the caller decides whether that is a drop or a retry.
func (q *Queue) Enqueue(ev domain.Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// EnqueueBatch admits events in order until the buffer fills and returns
// how many got in. Partial admission is the backpressure signal, not an
// error.
func (q *Queue) EnqueueBatch(events []domain.Event) int {
	for i, ev := range events {
		if !q.Enqueue(ev) {
			return i
		}
	}
	return len(events)
}

// Dequeue blocks until an event is available or ctx is done. The second
// return is false only when the wait was cancelled.
func (q *Queue) Dequeue(ctx context.Context) (domain.Event, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	case <-ctx.Done():
		return domain.Event{}, false
	}
}

func (q *Queue) Len() int      { return len(q.ch) }
func (q *Queue) Cap() int      { return cap(q.ch) }
func (q *Queue) IsEmpty() bool { return len(q.ch) == 0 }
func (q *Queue) IsFull() bool  { return len(q.ch) == cap(q.ch) }
