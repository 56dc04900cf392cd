// Package scheduler runs one polling loop per event, keeping the event store
// in step with each results page.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/okian/racefeed/internal/adapters/source"
	"github.com/okian/racefeed/internal/domain/dedupe"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// Store is the part of the event store the scheduler drives.
type Store interface {
	Commit(ctx context.Context, eventID string, outcomes []model.ParseOutcome) ([]model.ChangeEvent, error)
	Latest(ctx context.Context, eventID string) (time.Time, bool)
	Remove(ctx context.Context, eventID string) []model.ChangeEvent
	Clear(ctx context.Context)
}

// EventStatus reports the polling state of one event.
type EventStatus struct {
	Ref       model.EventRef
	Polls     uint64
	LastPoll  time.Time
	LastError string
	NextDelay time.Duration
}

// Scheduler owns the per-event poll loops.
type Scheduler struct {
	fetcher source.Fetcher
	store   Store
	clock   clock.Clock
	policy  Policy
	logged  dedupe.Deduper
	log     logger.Logger

	// lifecycle serializes Start, Stop and SetEvents.
	lifecycle sync.Mutex

	mu      sync.Mutex
	refs    []model.EventRef
	pollers map[string]*poller
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Scheduler for refs.
func New(fetcher source.Fetcher, store Store, refs []model.EventRef, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher: fetcher,
		store:   store,
		clock:   clock.WallClock,
		policy:  DefaultPolicy(),
		refs:    append([]model.EventRef(nil), refs...),
		pollers: make(map[string]*poller),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logged == nil {
		s.logged = dedupe.NewInMemoryDeduper()
	}
	if s.log == nil {
		s.log = logger.Get().Named("scheduler")
	}
	return s
}

// Start launches a loop per known event, each polling immediately.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	// Loops outlive the caller's ctx; Stop cancels them.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.logged.Reset(ctx)
	for _, ref := range s.refs {
		s.spawnLocked(ref)
	}
	s.running = true
	metrics.UpdateActiveLoops(len(s.pollers))
	s.log.Info(ctx, "scheduler started", logger.Int("events", len(s.refs)))
	return nil
}

// Stop cancels every pending timer and in-flight fetch, waits for all loops
// to exit and then clears the store.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.pollers = make(map[string]*poller)
	s.mu.Unlock()

	s.wg.Wait()
	s.store.Clear(ctx)
	metrics.UpdateActiveLoops(0)
	s.log.Info(ctx, "scheduler stopped")
	return nil
}

// Running reports whether the loops are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Events returns the known event references in configuration order.
func (s *Scheduler) Events() []model.EventRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EventRef(nil), s.refs...)
}

// Event returns the reference for id.
func (s *Scheduler) Event(id string) (model.EventRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.refs {
		if r.ID == id {
			return r, true
		}
	}
	return model.EventRef{}, false
}

// Status returns the polling state of every running loop in configuration order.
func (s *Scheduler) Status() []EventStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventStatus, 0, len(s.refs))
	for _, r := range s.refs {
		if p, ok := s.pollers[r.ID]; ok {
			out = append(out, p.status())
		} else {
			out = append(out, EventStatus{Ref: r})
		}
	}
	return out
}

// SetEvents replaces the known event list. On a running scheduler, loops of
// removed events are stopped and their records removed from the store, new
// events start polling immediately and events whose URL changed restart.
func (s *Scheduler) SetEvents(ctx context.Context, refs []model.EventRef) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	next := make(map[string]model.EventRef, len(refs))
	for _, r := range refs {
		next[r.ID] = r
	}

	s.mu.Lock()
	s.refs = append([]model.EventRef(nil), refs...)
	if !s.running {
		s.mu.Unlock()
		return
	}

	var removed, restarted []*poller
	for id, p := range s.pollers {
		r, keep := next[id]
		switch {
		case !keep:
			removed = append(removed, p)
			delete(s.pollers, id)
		case r != p.ref:
			restarted = append(restarted, p)
			delete(s.pollers, id)
		}
	}
	s.mu.Unlock()

	// Join outside mu so that forced updates waiting on these loops can finish.
	for _, p := range append(removed, restarted...) {
		p.stop()
	}
	for _, p := range removed {
		changes := s.store.Remove(ctx, p.ref.ID)
		s.log.Info(ctx, "event removed",
			logger.String("event_id", p.ref.ID), logger.Int("deleted", len(changes)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.refs {
		if _, ok := s.pollers[r.ID]; !ok {
			s.spawnLocked(r)
		}
	}
	metrics.UpdateActiveLoops(len(s.pollers))
}

// UpdateOne forces an immediate poll of id and waits until it completes.
func (s *Scheduler) UpdateOne(ctx context.Context, id string) error {
	s.mu.Lock()
	running := s.running
	p, ok := s.pollers[id]
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, id)
	}
	metrics.RecordForcedUpdate(id)
	return p.force(ctx)
}

// UpdateAll forces an immediate poll of every event in parallel and waits
// for all of them.
func (s *Scheduler) UpdateAll(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	ps := make([]*poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		ps = append(ps, p)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range ps {
		metrics.RecordForcedUpdate(p.ref.ID)
		g.Go(func() error { return p.force(gctx) })
	}
	return g.Wait()
}

// spawnLocked starts a loop for ref. Caller holds mu and s.ctx is live.
func (s *Scheduler) spawnLocked(ref model.EventRef) {
	ctx, cancel := context.WithCancel(s.ctx)
	p := newPoller(s, ref, cancel)
	s.pollers[ref.ID] = p
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.Run(ctx)
	}()
}
