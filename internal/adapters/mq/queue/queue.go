// Package queue provides the bounded, non-blocking change-event queue that
// sits between the event store and each stream subscription.
package queue

import (
	"context"
	"sync"

	"github.com/okian/racefeed/internal/domain/model"
)

// Default queue configuration constants.
const (
	defaultCapacity = 1024
)

// Event represents the payload type flowing through the queue.
type Event = model.ChangeEvent

// Queue provides non-blocking enqueue, a receive channel and batch draining.
type Queue interface {
	// Enqueue adds an event without blocking.
	// Returns false if the queue is full or closed and the event was not enqueued.
	Enqueue(ctx context.Context, e Event) bool

	// C returns the channel events are received from. It is closed by Close.
	C() <-chan Event

	// Drain appends every event currently queued to dst without blocking.
	Drain(dst []Event) []Event

	// Len returns the current number of queued events.
	Len() int

	// Close stops accepting events. Queued events can still be received.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)
	return q
}

// Enqueue adds an event to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || ctx.Err() != nil {
		return false
	}
	select {
	case q.events <- e:
		return true
	default:
		return false
	}
}

// C returns the receive side of the queue.
func (q *InMemoryQueue) C() <-chan Event {
	return q.events
}

// Drain appends every queued event to dst.
func (q *InMemoryQueue) Drain(dst []Event) []Event {
	for {
		select {
		case e, ok := <-q.events:
			if !ok {
				return dst
			}
			dst = append(dst, e)
		default:
			return dst
		}
	}
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len() int {
	return len(q.events)
}

// Capacity returns the maximum number of queued events.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
