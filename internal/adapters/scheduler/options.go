package scheduler

import (
	"github.com/juju/clock"

	"github.com/okian/racefeed/internal/domain/dedupe"
	"github.com/okian/racefeed/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for poll timers.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPolicy sets the backoff policy.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) {
		s.policy = p
	}
}

// WithDeduper sets the set of malformed rows already logged.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Scheduler) {
		if d != nil {
			s.logged = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}
