// Package fanout multicasts store change events to subscribers, each of which
// receives them grouped into sequenced batches over its own window.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/okian/racefeed/internal/adapters/mq/queue"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

const (
	defaultWindow  = time.Second
	defaultBuffer  = 1024
	defaultHistory = 512
)

// Hub fans change events out to subscriptions. Publish never blocks: a
// subscription whose queue is full loses the event and counts it.
type Hub struct {
	clock       clock.Clock
	window      time.Duration
	buffer      int
	historySize int
	log         logger.Logger

	mu      sync.RWMutex
	subs    map[string]*Subscription
	history []model.ChangeEvent
	closed  bool
}

// NewHub constructs a Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clock:       clock.WallClock,
		window:      defaultWindow,
		buffer:      defaultBuffer,
		historySize: defaultHistory,
		subs:        make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Get().Named("fanout")
	}
	return h
}

// Publish delivers ev to every matching subscription. It has the signature of
// a store listener and always returns nil.
func (h *Hub) Publish(ctx context.Context, ev model.ChangeEvent) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	if h.historySize > 0 {
		if len(h.history) >= h.historySize {
			copy(h.history, h.history[1:])
			h.history = h.history[:len(h.history)-1]
		}
		h.history = append(h.history, ev)
	}
	targets := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	// A cancelled commit context must not count as a subscriber overflow.
	ctx = context.WithoutCancel(ctx)
	for _, s := range targets {
		s.offer(ctx, ev)
	}
	return nil
}

// Subscribe opens a subscription that lives until it is closed, ctx is
// cancelled or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, opts ...SubscribeOption) (*Subscription, error) {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		id:      uuid.NewString(),
		hub:     h,
		eventID: cfg.eventID,
		queue:   queue.NewInMemoryQueue(queue.WithCapacity(h.buffer)),
		out:     make(chan model.BatchMessage, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, ErrHubClosed
	}
	replayed := 0
	if cfg.replay {
		for _, ev := range h.history {
			if s.offer(sctx, ev) {
				replayed++
			}
		}
	}
	h.subs[s.id] = s
	count := len(h.subs)
	h.mu.Unlock()

	metrics.UpdateSubscribers(count)
	metrics.RecordReplayedEvents(replayed)
	h.log.Debug(ctx, "subscription opened",
		logger.String("subscription", s.id),
		logger.String("event_id", cfg.eventID),
		logger.Int("replayed", replayed))

	go s.run(sctx)
	return s, nil
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HistoryLen returns the number of events kept for replay.
func (h *Hub) HistoryLen() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.history)
}

// Reset drops the replay history.
func (h *Hub) Reset() {
	h.mu.Lock()
	h.history = nil
	h.mu.Unlock()
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s.id)
	count := len(h.subs)
	h.mu.Unlock()
	metrics.UpdateSubscribers(count)
}
