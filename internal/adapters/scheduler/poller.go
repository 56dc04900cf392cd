package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// poller is the loop of one event: wait(delay) -> poll -> next delay.
// At most one timer is pending and at most one poll is in flight at a time.
type poller struct {
	s   *Scheduler
	ref model.EventRef
	log logger.Logger

	// requests carries forced polls; the channel is closed once the
	// corresponding poll has finished.
	requests chan chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	polls     uint64
	lastPoll  time.Time
	lastError string
	nextDelay time.Duration
}

func newPoller(s *Scheduler, ref model.EventRef, cancel context.CancelFunc) *poller {
	return &poller{
		s:        s,
		ref:      ref,
		log:      s.log,
		requests: make(chan chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Run polls immediately and then on the policy's schedule until ctx is
// cancelled.
func (p *poller) Run(ctx context.Context) {
	defer close(p.done)

	var delay time.Duration
	for {
		var waiters []chan struct{}
		if delay > 0 {
			timer := p.s.clock.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.Chan():
			case w := <-p.requests:
				timer.Stop()
				waiters = append(waiters, w)
			}
		}

		// Requests that arrived before this poll starts are served by it.
	drain:
		for {
			select {
			case w := <-p.requests:
				waiters = append(waiters, w)
			default:
				break drain
			}
		}

		p.poll(ctx)
		for _, w := range waiters {
			close(w)
		}
		if ctx.Err() != nil {
			return
		}

		latest, known := p.s.store.Latest(ctx, p.ref.ID)
		delay = p.s.policy.Next(latest, known, p.s.clock.Now())
		p.mu.Lock()
		p.nextDelay = delay
		p.mu.Unlock()
		metrics.UpdatePollNextDelay(p.ref.ID, delay)
	}
}

func (p *poller) stop() {
	p.cancel()
	<-p.done
}

// force asks the loop for an immediate poll and waits for it.
func (p *poller) force(ctx context.Context) error {
	w := make(chan struct{})
	select {
	case p.requests <- w:
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-w:
		return nil
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll runs one fetch and commit. Failures are logged and leave the
// snapshot untouched.
func (p *poller) poll(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.RecordPollLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	outcomes, err := p.s.fetcher.Fetch(ctx, p.ref)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			metrics.RecordPoll(p.ref.ID, "canceled")
			return
		}
		metrics.RecordPoll(p.ref.ID, "fetch_error")
		metrics.RecordErrorByComponent("scheduler", "fetch_error")
		p.log.Warn(ctx, "fetch failed, keeping previous snapshot",
			logger.String("event_id", p.ref.ID),
			logger.String("url", p.ref.URL),
			logger.Error(err))
		p.record(err)
		return
	}

	rejected := 0
	for i := range outcomes {
		o := &outcomes[i]
		if o.OK() {
			continue
		}
		rejected++
		if p.s.logged.SeenAndRecord(ctx, o.ContentHash) {
			continue
		}
		metrics.RecordParseErrorLogged()
		p.log.Warn(ctx, "dropping malformed row",
			logger.String("event_id", p.ref.ID),
			logger.String("content_hash", o.ContentHash),
			logger.String("errors", strings.Join(o.Errors, "; ")))
	}
	metrics.RecordRowsRejected(rejected)

	if ctx.Err() != nil {
		metrics.RecordPoll(p.ref.ID, "canceled")
		return
	}
	changes, err := p.s.store.Commit(ctx, p.ref.ID, outcomes)
	if err != nil {
		metrics.RecordPoll(p.ref.ID, "commit_error")
		p.log.Error(ctx, "commit failed", logger.String("event_id", p.ref.ID), logger.Error(err))
		p.record(err)
		return
	}
	metrics.RecordPoll(p.ref.ID, "ok")
	p.record(nil)
	p.log.Debug(ctx, "poll finished",
		logger.String("event_id", p.ref.ID),
		logger.Int("rows", len(outcomes)),
		logger.Int("rejected", rejected),
		logger.Int("changes", len(changes)),
		logger.Duration("took", time.Since(start)))
}

func (p *poller) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	p.lastPoll = p.s.clock.Now()
	p.lastError = ""
	if err != nil {
		p.lastError = err.Error()
	}
}

func (p *poller) status() EventStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return EventStatus{
		Ref:       p.ref,
		Polls:     p.polls,
		LastPoll:  p.lastPoll,
		LastError: p.lastError,
		NextDelay: p.nextDelay,
	}
}
