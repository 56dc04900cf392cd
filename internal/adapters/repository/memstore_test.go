package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/racefeed/internal/adapters/repository"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/parser"
	"github.com/okian/racefeed/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func row(race int, racer string, finish string) string {
	return fmt.Sprintf("12.07.2021|10:00:%02d|%d|E1|%s|left|0|0.4|1.1|2.2|3.3|120|4.4|130|%s|140|winner", race%60, race, racer, finish)
}

func parseAll(rows ...string) []model.ParseOutcome {
	p := parser.New()
	out := make([]model.ParseOutcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, p.Parse(r))
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (r *recorder) listen(_ context.Context, ev model.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() (adds, deletes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == model.ChangeDelete {
			deletes++
		} else {
			adds++
		}
	}
	return adds, deletes
}

func TestMemStoreReconciliation(t *testing.T) {
	Convey("Given an empty store with a listener", t, func() {
		ctx := context.Background()
		s := repository.NewMemStore()
		rec := &recorder{}
		s.Listen(rec.listen)

		a, b, c := row(1, "A", "5.1"), row(2, "B", "5.2"), row(3, "C", "5.3")

		Convey("When committing three rows", func() {
			changes, err := s.Commit(ctx, "ev-1", parseAll(a, b, c))

			Convey("Then three adds should be emitted and readable", func() {
				So(err, ShouldBeNil)
				So(changes, ShouldHaveLength, 3)
				adds, deletes := rec.kinds()
				So(adds, ShouldEqual, 3)
				So(deletes, ShouldEqual, 0)
				So(s.Read(ctx, "ev-1"), ShouldHaveLength, 3)
				So(s.Count(ctx, "ev-1"), ShouldEqual, 3)
			})

			Convey("And committing the same rows again should be a no-op", func() {
				again, err := s.Commit(ctx, "ev-1", parseAll(a, b, c))
				So(err, ShouldBeNil)
				So(again, ShouldBeEmpty)
				So(rec.events, ShouldHaveLength, 3)
			})

			Convey("And changing one row should emit a delete and an add", func() {
				b2 := row(2, "B", "5.25")
				next, err := s.Commit(ctx, "ev-1", parseAll(a, b2, c))
				So(err, ShouldBeNil)
				So(next, ShouldHaveLength, 2)
				So(next[0].Kind, ShouldEqual, model.ChangeDelete)
				So(next[0].ContentHash, ShouldEqual, parser.Hash(b))
				So(next[0].Record, ShouldBeNil)
				So(next[1].Kind, ShouldEqual, model.ChangeAddOrUpdate)
				So(next[1].ContentHash, ShouldEqual, parser.Hash(b2))
				So(next[1].Record.RacerID, ShouldEqual, "B")
				So(s.Count(ctx, "ev-1"), ShouldEqual, 3)
			})

			Convey("And committing a subset should delete the rest", func() {
				next, _ := s.Commit(ctx, "ev-1", parseAll(a))
				So(next, ShouldHaveLength, 2)
				for _, ev := range next {
					So(ev.Kind, ShouldEqual, model.ChangeDelete)
				}
				So(s.Read(ctx, "ev-1"), ShouldHaveLength, 1)
			})

			Convey("And committing nothing should delete everything", func() {
				next, _ := s.Commit(ctx, "ev-1", nil)
				So(next, ShouldHaveLength, 3)
				So(s.Read(ctx, "ev-1"), ShouldBeEmpty)
			})

			Convey("And other events should be unaffected", func() {
				_, err := s.Commit(ctx, "ev-2", parseAll(row(9, "Z", "6.0")))
				So(err, ShouldBeNil)
				So(s.Count(ctx, "ev-1"), ShouldEqual, 3)
				So(s.Events(ctx), ShouldResemble, []string{"ev-1", "ev-2"})
				all := s.ReadAll(ctx)
				So(all["ev-2"], ShouldHaveLength, 1)
				So(all["ev-2"][0].EventID, ShouldEqual, "ev-2")
			})
		})

		Convey("When a batch mixes valid and malformed rows", func() {
			bad := row(4, "D", "5.x")
			changes, err := s.Commit(ctx, "ev-1", parseAll(a, bad))

			Convey("Then the malformed row should not be committed", func() {
				So(err, ShouldBeNil)
				So(changes, ShouldHaveLength, 1)
				So(changes[0].ContentHash, ShouldEqual, parser.Hash(a))
				So(s.Count(ctx, "ev-1"), ShouldEqual, 1)
			})
		})

		Convey("When a batch contains duplicate rows", func() {
			changes, _ := s.Commit(ctx, "ev-1", parseAll(a, a))

			Convey("Then they should collapse to one record", func() {
				So(changes, ShouldHaveLength, 1)
				So(s.Count(ctx, "ev-1"), ShouldEqual, 1)
			})
		})

		Convey("When committing without an event id", func() {
			_, err := s.Commit(ctx, "", parseAll(a))

			Convey("Then it should be rejected", func() {
				So(errors.Is(err, repository.ErrEmptyEventID), ShouldBeTrue)
			})
		})
	})
}

func TestMemStoreReads(t *testing.T) {
	Convey("Given a store with records at different times", t, func() {
		ctx := context.Background()
		s := repository.NewMemStore()
		_, _ = s.Commit(ctx, "ev-1", parseAll(row(30, "late", "5.0"), row(10, "early", "5.0")))

		Convey("Then reads should be ordered by timestamp", func() {
			recs := s.Read(ctx, "ev-1")
			So(recs[0].RacerID, ShouldEqual, "early")
			So(recs[1].RacerID, ShouldEqual, "late")

			entries := s.Entries(ctx, "ev-1")
			So(entries[1].ContentHash, ShouldEqual, parser.Hash(row(30, "late", "5.0")))
		})

		Convey("Then Latest should return the newest timestamp", func() {
			latest, ok := s.Latest(ctx, "ev-1")
			So(ok, ShouldBeTrue)
			So(latest.Equal(time.Date(2021, time.July, 12, 10, 0, 30, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("Then unknown events should read empty", func() {
			So(s.Read(ctx, "nope"), ShouldBeEmpty)
			_, ok := s.Latest(ctx, "nope")
			So(ok, ShouldBeFalse)
		})

		Convey("Then mutating a read result should not change the store", func() {
			recs := s.Read(ctx, "ev-1")
			recs[0].RacerID = "changed"
			So(s.Read(ctx, "ev-1")[0].RacerID, ShouldEqual, "early")
		})
	})
}

func TestMemStoreRemoveAndClear(t *testing.T) {
	Convey("Given a store holding two events", t, func() {
		ctx := context.Background()
		s := repository.NewMemStore()
		rec := &recorder{}
		_, _ = s.Commit(ctx, "ev-1", parseAll(row(1, "A", "5.1"), row(2, "B", "5.2")))
		_, _ = s.Commit(ctx, "ev-2", parseAll(row(3, "C", "5.3")))
		s.Listen(rec.listen)

		Convey("When removing one event", func() {
			changes := s.Remove(ctx, "ev-1")

			Convey("Then a delete per record should be emitted", func() {
				So(changes, ShouldHaveLength, 2)
				_, deletes := rec.kinds()
				So(deletes, ShouldEqual, 2)
				So(s.Events(ctx), ShouldResemble, []string{"ev-2"})
				So(s.Has(ctx, "ev-1"), ShouldBeFalse)
				So(s.Has(ctx, "ev-2"), ShouldBeTrue)
				So(s.Remove(ctx, "ev-1"), ShouldBeEmpty)
			})
		})

		Convey("When clearing the store", func() {
			s.Clear(ctx)

			Convey("Then everything should be gone and nothing emitted", func() {
				So(s.Events(ctx), ShouldBeEmpty)
				So(s.Read(ctx, "ev-2"), ShouldBeEmpty)
				So(rec.events, ShouldBeEmpty)
			})

			Convey("And a later commit should add everything again", func() {
				changes, _ := s.Commit(ctx, "ev-2", parseAll(row(3, "C", "5.3")))
				So(changes, ShouldHaveLength, 1)
				So(changes[0].Kind, ShouldEqual, model.ChangeAddOrUpdate)
			})
		})
	})
}

func TestMemStoreListenerIsolation(t *testing.T) {
	Convey("Given listeners that fail in different ways", t, func() {
		ctx := context.Background()
		s := repository.NewMemStore()
		first, last := &recorder{}, &recorder{}
		s.Listen(first.listen)
		s.Listen(func(context.Context, model.ChangeEvent) error { return errors.New("rejected") })
		s.Listen(func(context.Context, model.ChangeEvent) error { panic("boom") })
		s.Listen(last.listen)

		Convey("When committing rows", func() {
			changes, err := s.Commit(ctx, "ev-1", parseAll(row(1, "A", "5.1"), row(2, "B", "5.2")))

			Convey("Then the commit should succeed and healthy listeners get everything", func() {
				So(err, ShouldBeNil)
				So(changes, ShouldHaveLength, 2)
				So(first.events, ShouldHaveLength, 2)
				So(last.events, ShouldHaveLength, 2)
				So(s.Count(ctx, "ev-1"), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a listener that rewrites the records it receives", t, func() {
		ctx := context.Background()
		s := repository.NewMemStore()
		s.Listen(func(_ context.Context, ev model.ChangeEvent) error {
			if ev.Record != nil {
				ev.Record.RacerID = "rewritten"
				ev.Record.RaceID = -1
			}
			return nil
		})

		Convey("When committing rows", func() {
			_, err := s.Commit(ctx, "ev-1", parseAll(row(1, "A", "5.1")))
			So(err, ShouldBeNil)

			Convey("Then the stored record should keep its committed values", func() {
				recs := s.Read(ctx, "ev-1")
				So(recs, ShouldHaveLength, 1)
				So(recs[0].RacerID, ShouldEqual, "A")
				So(recs[0].RaceID, ShouldEqual, 1)
			})

			Convey("And entries should hand out copies as well", func() {
				entries := s.Entries(ctx, "ev-1")
				entries[0].Record.RacerID = "changed"
				So(s.Entries(ctx, "ev-1")[0].Record.RacerID, ShouldEqual, "A")
			})
		})
	})

	Convey("Given a cancelled listener", t, func() {
		ctx := context.Background()
		s := repository.NewMemStore()
		rec := &recorder{}
		cancel := s.Listen(rec.listen)
		cancel()
		cancel()

		Convey("Then it should receive nothing", func() {
			_, _ = s.Commit(ctx, "ev-1", parseAll(row(1, "A", "5.1")))
			So(rec.events, ShouldBeEmpty)
		})
	})
}

func TestMemStoreConcurrentEvents(t *testing.T) {
	Convey("Given commits for many events in parallel", t, func() {
		ctx := context.Background()
		s := repository.NewMemStore()
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("ev-%02d", i)
				for j := 0; j < 10; j++ {
					_, _ = s.Commit(ctx, id, parseAll(row(j, "A", "5.1"), row(j+1, "B", "5.2")))
				}
			}(i)
		}
		wg.Wait()

		Convey("Then every event should hold its last snapshot", func() {
			So(s.Events(ctx), ShouldHaveLength, 16)
			for _, id := range s.Events(ctx) {
				So(s.Count(ctx, id), ShouldEqual, 2)
			}
		})
	})
}
