package fanout

import (
	"time"

	"github.com/juju/clock"

	"github.com/okian/racefeed/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithWindow sets the batching window.
func WithWindow(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.window = d
		}
	}
}

// WithBuffer bounds the events pending per subscription.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHistory sets how many recent change events are kept for replay.
// Zero disables replay.
func WithHistory(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.historySize = n
		}
	}
}

// WithClock sets the clock used for batching windows.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	eventID string
	replay  bool
}

// ForEvent limits the subscription to one event id.
func ForEvent(id string) SubscribeOption {
	return func(c *subscribeConfig) {
		c.eventID = id
	}
}

// WithReplay queues the hub's recent history before live events.
func WithReplay() SubscribeOption {
	return func(c *subscribeConfig) {
		c.replay = true
	}
}
