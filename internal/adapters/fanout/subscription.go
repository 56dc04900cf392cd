package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/racefeed/internal/adapters/mq/queue"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/metrics"
)

// Subscription receives batches with its own window and a sequence counter
// starting at 0.
//
// Windows do not tick on a fixed cadence. A window opens when the first
// event reaches an empty queue and closes one window length later, so an
// idle subscription emits nothing and a batch arrives at most one window
// after its oldest event.
type Subscription struct {
	id      string
	hub     *Hub
	eventID string
	queue   *queue.InMemoryQueue
	out     chan model.BatchMessage

	seq     uint64
	dropped atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// EventID returns the event filter, or "" for all events.
func (s *Subscription) EventID() string { return s.eventID }

// Batches returns the channel batches are delivered on. It is closed when
// the subscription ends.
func (s *Subscription) Batches() <-chan model.BatchMessage { return s.out }

// Dropped returns how many events were lost because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close ends the subscription and waits for its loop to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) offer(ctx context.Context, ev model.ChangeEvent) bool {
	if s.eventID != "" && ev.EventID != s.eventID {
		return false
	}
	if s.queue.Enqueue(ctx, ev) {
		return true
	}
	if s.queue.IsClosed() {
		return false
	}
	s.dropped.Add(1)
	metrics.RecordDroppedEvent()
	return false
}

// run opens a window on the first queued event and, when it closes, emits
// everything queued so far as one batch.
func (s *Subscription) run(ctx context.Context) {
	defer s.once.Do(func() {
		_ = s.queue.Close()
		s.hub.remove(s)
		close(s.out)
		close(s.done)
	})

	for {
		var first model.ChangeEvent
		select {
		case <-ctx.Done():
			return
		case first = <-s.queue.C():
		}

		timer := s.hub.clock.NewTimer(s.hub.window)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		items := s.queue.Drain([]model.ChangeEvent{first})
		msg := model.BatchMessage{Sequence: s.seq, Items: items}
		select {
		case s.out <- msg:
			s.seq++
			metrics.RecordBatch(len(items))
		case <-ctx.Done():
			return
		}
	}
}
