// Package service wires the store, poll scheduler and fan-out hub together
// and exposes the pull and push interfaces used by the HTTP API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/okian/racefeed/internal/adapters/fanout"
	"github.com/okian/racefeed/internal/adapters/repository"
	"github.com/okian/racefeed/internal/adapters/scheduler"
	"github.com/okian/racefeed/internal/adapters/source"
	"github.com/okian/racefeed/internal/domain/dedupe"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/parser"
	"github.com/okian/racefeed/internal/domain/types"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// Service implements the API dependencies for the results feed.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    *repository.MemStore
	hub      *fanout.Hub
	sched    *scheduler.Scheduler
	fetcher  source.Fetcher
	unlisten func()

	// Configuration
	location     *time.Location
	userAgent    string
	fetchTimeout time.Duration
	maxPageBytes int64
	policy       scheduler.Policy
	window       time.Duration
	buffer       int
	history      int
	dedupeSize   int
	clock        clock.Clock

	// State
	started bool
	closed  bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFetcher replaces the HTTP fetcher. Location, user agent, timeout and
// page size options are ignored when it is set.
func WithFetcher(f source.Fetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithLocation sets the time zone results pages are written in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithUserAgent sets the User-Agent sent to results pages.
func WithUserAgent(ua string) Option {
	return func(s *Service) {
		s.userAgent = ua
	}
}

// WithFetchTimeout bounds a single page download.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithMaxPageBytes bounds the size of a results page.
func WithMaxPageBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPageBytes = n
		}
	}
}

// WithPolicy sets the poll backoff policy.
func WithPolicy(p scheduler.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithBatchWindow sets the per-subscription batching window.
func WithBatchWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithSubscriberBuffer bounds the events pending per subscription.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithReplayHistory sets how many change events are kept for replay.
func WithReplayHistory(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.history = n
		}
	}
}

// WithErrorLogDedupeSize bounds the set of malformed rows already logged.
func WithErrorLogDedupeSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// WithClock sets the clock for poll timers and batching windows.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// New constructs a Service following refs. Nothing is polled before Start
// or the first pull request.
func New(refs []model.EventRef, opts ...Option) *Service {
	s := &Service{
		location:     time.UTC,
		userAgent:    "racefeed/1.0",
		fetchTimeout: 10 * time.Second,
		maxPageBytes: 8 << 20,
		policy:       scheduler.DefaultPolicy(),
		window:       time.Second,
		buffer:       1024,
		history:      512,
		dedupeSize:   10000,
		clock:        clock.WallClock,
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	if s.fetcher == nil {
		s.fetcher = source.New(
			source.WithParser(parser.New(parser.WithLocation(s.location))),
			source.WithUserAgent(s.userAgent),
			source.WithTimeout(s.fetchTimeout),
			source.WithMaxBytes(s.maxPageBytes),
		)
	}
	s.store = repository.NewMemStore()
	s.hub = fanout.NewHub(
		fanout.WithClock(s.clock),
		fanout.WithWindow(s.window),
		fanout.WithBuffer(s.buffer),
		fanout.WithHistory(s.history),
	)
	s.unlisten = s.store.Listen(s.hub.Publish)
	s.sched = scheduler.New(s.fetcher, s.store, refs,
		scheduler.WithClock(s.clock),
		scheduler.WithPolicy(s.policy),
		scheduler.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
	)
	return s
}

// Start launches polling for every followed event.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting results service...")
	if err := s.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	s.started = true
	s.logger.Info(ctx, "results service started",
		logger.Int("events", len(s.sched.Events())),
		logger.Duration("batchWindow", s.window),
	)
	return nil
}

// Stop halts polling and discards every snapshot and the replay history.
// Open subscriptions stay open and see new data after the next Start.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping results service...")
	if err := s.sched.Stop(ctx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	s.hub.Reset()
	s.started = false
	s.logger.Info(ctx, "results service stopped")
	return nil
}

// Close stops the service and ends every subscription.
func (s *Service) Close(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.unlisten()
	return s.hub.Close()
}

// Started reports whether polling is active.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *Service) ensureStarted(ctx context.Context) error {
	if s.Started() {
		return nil
	}
	return s.Start(ctx)
}

// ListEvents returns every followed event with its current record count.
func (s *Service) ListEvents(ctx context.Context) ([]types.Event, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}
	refs := s.sched.Events()
	out := make([]types.Event, 0, len(refs))
	for _, r := range refs {
		ev := types.Event{
			ID:      r.ID,
			Name:    r.Name,
			URL:     r.URL,
			Records: s.store.Count(ctx, r.ID),
		}
		if latest, ok := s.store.Latest(ctx, r.ID); ok {
			ev.Latest = &latest
		}
		out = append(out, ev)
	}
	return out, nil
}

// ListEventData returns the current records of one event. An event that
// has never been committed is polled first.
func (s *Service) ListEventData(ctx context.Context, eventID string) ([]types.Result, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}
	if _, ok := s.sched.Event(eventID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	if err := s.fill(ctx, eventID); err != nil {
		return nil, err
	}
	return s.results(ctx, eventID), nil
}

// ListAllEventData returns the current records of every followed event,
// polling in parallel the ones never committed.
func (s *Service) ListAllEventData(ctx context.Context) (map[string][]types.Result, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}
	refs := s.sched.Events()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range refs {
		g.Go(func() error { return s.fill(gctx, r.ID) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]types.Result, len(refs))
	for _, r := range refs {
		out[r.ID] = s.results(ctx, r.ID)
	}
	return out, nil
}

// fill forces a poll of eventID when the store holds no snapshot for it.
func (s *Service) fill(ctx context.Context, eventID string) error {
	if s.store.Has(ctx, eventID) {
		return nil
	}
	err := s.sched.UpdateOne(ctx, eventID)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// A loop restarted by SetEvents or Stop; serve what is held.
		s.logger.Debug(ctx, "initial poll not completed",
			logger.String("event_id", eventID), logger.Error(err))
		return nil
	}
}

func (s *Service) results(ctx context.Context, eventID string) []types.Result {
	entries := s.store.Entries(ctx, eventID)
	out := make([]types.Result, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.NewResult(e.ContentHash, e.Record))
	}
	return out
}

// Refresh forces an immediate poll of one event and waits for it.
func (s *Service) Refresh(ctx context.Context, eventID string) error {
	if err := s.ensureStarted(ctx); err != nil {
		return err
	}
	if err := s.sched.UpdateOne(ctx, eventID); err != nil {
		return fmt.Errorf("refresh %s: %w", eventID, err)
	}
	return nil
}

// RefreshAll forces an immediate poll of every event and waits for them.
func (s *Service) RefreshAll(ctx context.Context) error {
	if err := s.ensureStarted(ctx); err != nil {
		return err
	}
	if err := s.sched.UpdateAll(ctx); err != nil {
		return fmt.Errorf("refresh all: %w", err)
	}
	return nil
}

// Subscribe opens a push subscription, optionally limited to one event and
// optionally replaying recent changes first.
func (s *Service) Subscribe(ctx context.Context, eventID string, replay bool) (*fanout.Subscription, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return nil, err
	}
	var opts []fanout.SubscribeOption
	if eventID != "" {
		if _, ok := s.sched.Event(eventID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
		}
		opts = append(opts, fanout.ForEvent(eventID))
	}
	if replay {
		opts = append(opts, fanout.WithReplay())
	}
	sub, err := s.hub.Subscribe(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// SetEvents replaces the followed events. Removed events lose their records
// and subscribers receive the matching deletes.
func (s *Service) SetEvents(ctx context.Context, refs []model.EventRef) {
	s.sched.SetEvents(ctx, refs)
	s.logger.Info(ctx, "followed events updated", logger.Int("events", len(refs)))
}

// Status returns the polling state of every followed event.
func (s *Service) Status() []scheduler.EventStatus {
	return s.sched.Status()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	ctx := context.Background()
	refs := s.sched.Events()
	records := 0
	for _, r := range refs {
		records += s.store.Count(ctx, r.ID)
	}
	subscribers := s.hub.Count()

	stats := map[string]interface{}{
		"started":       started,
		"events":        len(refs),
		"records":       records,
		"subscribers":   subscribers,
		"replayHistory": s.hub.HistoryLen(),
		"batchWindowMs": s.window.Milliseconds(),
	}

	metrics.UpdateSubscribers(subscribers)
	return stats
}
