package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// snapshot is the immutable state of one event. It is replaced whole on
// every commit and never mutated after publication.
type snapshot struct {
	records map[string]*model.RaceResultRecord
	latest  time.Time
}

func newSnapshot(records map[string]*model.RaceResultRecord) *snapshot {
	s := &snapshot{records: records}
	for _, r := range records {
		if r.Timestamp.After(s.latest) {
			s.latest = r.Timestamp
		}
	}
	return s
}

// MemStore is the in-memory Store implementation.
type MemStore struct {
	mu    sync.RWMutex
	snaps map[string]*snapshot

	lmu       sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64

	log logger.Logger
}

var _ Store = (*MemStore)(nil)

// NewMemStore constructs an empty store.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		snaps:     make(map[string]*snapshot),
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("store")
	}
	return s
}

// Commit implements Store.Commit.
func (s *MemStore) Commit(ctx context.Context, eventID string, outcomes []model.ParseOutcome) ([]model.ChangeEvent, error) {
	if eventID == "" {
		return nil, ErrEmptyEventID
	}
	start := time.Now()

	next := make(map[string]*model.RaceResultRecord, len(outcomes))
	for i := range outcomes {
		o := &outcomes[i]
		if !o.OK() {
			continue
		}
		if _, dup := next[o.ContentHash]; dup {
			continue
		}
		rec := o.Record
		rec.EventID = eventID
		next[o.ContentHash] = &rec
	}

	s.mu.RLock()
	prev := s.snaps[eventID]
	s.mu.RUnlock()

	var old map[string]*model.RaceResultRecord
	if prev != nil {
		old = prev.records
	}
	changes := diff(eventID, old, next)

	s.mu.Lock()
	s.snaps[eventID] = newSnapshot(next)
	s.mu.Unlock()

	metrics.RecordCommitLatency(float64(time.Since(start).Microseconds()) / 1000)
	metrics.UpdateStoreRecords(eventID, len(next))

	s.emit(ctx, changes)
	return changes, nil
}

// diff returns deletes then adds, each ordered by content hash. Added
// records are copies; listeners never see snapshot memory.
func diff(eventID string, old, next map[string]*model.RaceResultRecord) []model.ChangeEvent {
	var deletes, adds []string
	for h := range old {
		if _, ok := next[h]; !ok {
			deletes = append(deletes, h)
		}
	}
	for h := range next {
		if _, ok := old[h]; !ok {
			adds = append(adds, h)
		}
	}
	sort.Strings(deletes)
	sort.Strings(adds)

	changes := make([]model.ChangeEvent, 0, len(deletes)+len(adds))
	for _, h := range deletes {
		changes = append(changes, model.ChangeEvent{Kind: model.ChangeDelete, EventID: eventID, ContentHash: h})
	}
	for _, h := range adds {
		rec := *next[h]
		changes = append(changes, model.ChangeEvent{Kind: model.ChangeAddOrUpdate, EventID: eventID, ContentHash: h, Record: &rec})
	}
	return changes
}

func (s *MemStore) snapshotOf(eventID string) *snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[eventID]
}

// Entries implements Store.Entries. Entries are ordered by timestamp, race
// id, racer id and finally content hash. Each entry holds a copy of the
// stored record.
func (s *MemStore) Entries(_ context.Context, eventID string) []Entry {
	snap := s.snapshotOf(eventID)
	if snap == nil {
		return nil
	}
	out := make([]Entry, 0, len(snap.records))
	for h, r := range snap.records {
		rec := *r
		out = append(out, Entry{ContentHash: h, Record: &rec})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Record, out[j].Record
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.RaceID != b.RaceID {
			return a.RaceID < b.RaceID
		}
		if a.RacerID != b.RacerID {
			return a.RacerID < b.RacerID
		}
		return out[i].ContentHash < out[j].ContentHash
	})
	return out
}

// Read implements Store.Read.
func (s *MemStore) Read(ctx context.Context, eventID string) []model.RaceResultRecord {
	entries := s.Entries(ctx, eventID)
	out := make([]model.RaceResultRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.Record)
	}
	return out
}

// ReadAll implements Store.ReadAll.
func (s *MemStore) ReadAll(ctx context.Context) map[string][]model.RaceResultRecord {
	ids := s.Events(ctx)
	out := make(map[string][]model.RaceResultRecord, len(ids))
	for _, id := range ids {
		out[id] = s.Read(ctx, id)
	}
	return out
}

// Events implements Store.Events.
func (s *MemStore) Events(_ context.Context) []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Latest implements Store.Latest. Records without a timestamp are ignored.
func (s *MemStore) Latest(_ context.Context, eventID string) (time.Time, bool) {
	snap := s.snapshotOf(eventID)
	if snap == nil || snap.latest.IsZero() {
		return time.Time{}, false
	}
	return snap.latest, true
}

// Has implements Store.Has.
func (s *MemStore) Has(_ context.Context, eventID string) bool {
	return s.snapshotOf(eventID) != nil
}

// Count implements Store.Count.
func (s *MemStore) Count(_ context.Context, eventID string) int {
	snap := s.snapshotOf(eventID)
	if snap == nil {
		return 0
	}
	return len(snap.records)
}

// Remove implements Store.Remove.
func (s *MemStore) Remove(ctx context.Context, eventID string) []model.ChangeEvent {
	s.mu.Lock()
	prev, ok := s.snaps[eventID]
	delete(s.snaps, eventID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	metrics.UpdateStoreRecords(eventID, 0)
	changes := diff(eventID, prev.records, nil)
	s.emit(ctx, changes)
	return changes
}

// Clear implements Store.Clear.
func (s *MemStore) Clear(_ context.Context) {
	s.mu.Lock()
	s.snaps = make(map[string]*snapshot)
	s.mu.Unlock()
	metrics.ResetStoreRecords()
}

// Listen implements Store.Listen.
func (s *MemStore) Listen(l Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *MemStore) emit(ctx context.Context, changes []model.ChangeEvent) {
	if len(changes) == 0 {
		return
	}
	s.lmu.RLock()
	ls := make([]Listener, 0, len(s.listeners))
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ls = append(ls, s.listeners[id])
	}
	s.lmu.RUnlock()

	for _, ev := range changes {
		metrics.RecordChangeEvent(ev.Kind.String())
		for _, l := range ls {
			if err := s.deliver(ctx, l, ev); err != nil {
				metrics.RecordListenerError()
				metrics.RecordErrorByComponent("store", "listener")
				s.log.Error(ctx, "change listener failed",
					logger.String("event_id", ev.EventID),
					logger.String("content_hash", ev.ContentHash),
					logger.String("kind", ev.Kind.String()),
					logger.Error(err))
			}
		}
	}
}

func (s *MemStore) deliver(ctx context.Context, l Listener, ev model.ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrListener, r)
		}
	}()
	if err := l(ctx, ev); err != nil {
		return fmt.Errorf("%w: %w", ErrListener, err)
	}
	return nil
}
