package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/okian/racefeed/internal/adapters/repository"
	"github.com/okian/racefeed/internal/adapters/scheduler"
	"github.com/okian/racefeed/internal/domain/dedupe"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/parser"
	"github.com/okian/racefeed/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var base = time.Date(2021, time.July, 12, 12, 0, 0, 0, time.UTC)

func row(race int, racer string) string {
	return fmt.Sprintf("12.07.2021|10:00:%02d|%d|E1|%s|left|0|0.4|1.1|2.2|3.3|120|4.4|130|5.5|140|winner", race%60, race, racer)
}

type fakeFetcher struct {
	mu    sync.Mutex
	rows  map[string][]string
	errs  map[string]error
	calls map[string]int
	block chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		rows:  make(map[string][]string),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) set(id string, rows ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = rows
	delete(f.errs, id)
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref model.EventRef) ([]model.ParseOutcome, error) {
	f.mu.Lock()
	f.calls[ref.ID]++
	rows, err, block := f.rows[ref.ID], f.errs[ref.ID], f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	p := parser.New()
	out := make([]model.ParseOutcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, p.ParseEvent(ref.ID, r))
	}
	return out, nil
}

type changeLog struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (c *changeLog) listen(_ context.Context, ev model.ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *changeLog) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *changeLog) snapshot() []model.ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ChangeEvent(nil), c.events...)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

var refs = []model.EventRef{
	{ID: "ev-1", URL: "http://results.example/ev-1"},
	{ID: "ev-2", URL: "http://results.example/ev-2"},
}

func TestPolicy(t *testing.T) {
	Convey("Given the default policy", t, func() {
		p := scheduler.DefaultPolicy()
		now := base

		Convey("Then the delay should follow the age of the newest record", func() {
			So(p.Next(now.Add(-time.Hour), true, now), ShouldEqual, 15*time.Second)
			So(p.Next(now.Add(-72*time.Hour), true, now), ShouldEqual, time.Hour)
			So(p.Next(now.Add(-20*24*time.Hour), true, now), ShouldEqual, 24*time.Hour)
		})

		Convey("Then tier boundaries should belong to the slower tier", func() {
			So(p.Next(now.Add(-48*time.Hour), true, now), ShouldEqual, time.Hour)
			So(p.Next(now.Add(-14*24*time.Hour), true, now), ShouldEqual, 24*time.Hour)
		})

		Convey("Then an event without records should use the default delay", func() {
			So(p.Next(time.Time{}, false, now), ShouldEqual, time.Hour)
		})
	})
}

func TestSchedulerLifecycle(t *testing.T) {
	Convey("Given a scheduler over two events", t, func() {
		ctx := context.Background()
		clk := testclock.NewClock(base)
		fetcher := newFakeFetcher()
		fetcher.set("ev-1", row(1, "A"), row(2, "B"))
		fetcher.set("ev-2", row(3, "C"))
		store := repository.NewMemStore()
		logged := dedupe.NewInMemoryDeduper()
		s := scheduler.New(fetcher, store, refs, scheduler.WithClock(clk), scheduler.WithDeduper(logged))

		Convey("When it is not started", func() {
			Convey("Then forced updates should be refused", func() {
				So(errors.Is(s.UpdateOne(ctx, "ev-1"), scheduler.ErrNotRunning), ShouldBeTrue)
				So(errors.Is(s.UpdateAll(ctx), scheduler.ErrNotRunning), ShouldBeTrue)
				So(s.Running(), ShouldBeFalse)
			})
		})

		Convey("When it is started", func() {
			So(s.Start(ctx), ShouldBeNil)
			defer func() { _ = s.Stop(ctx) }()

			Convey("Then every event should be polled immediately", func() {
				So(eventually(func() bool { return store.Count(ctx, "ev-1") == 2 && store.Count(ctx, "ev-2") == 1 }), ShouldBeTrue)
				So(s.Running(), ShouldBeTrue)
				So(s.Start(ctx), ShouldBeNil)
			})

			Convey("Then each event should get one timer at the active delay", func() {
				So(clk.WaitAdvance(15*time.Second, time.Second, 2), ShouldBeNil)
				So(eventually(func() bool { return fetcher.count("ev-1") == 2 && fetcher.count("ev-2") == 2 }), ShouldBeTrue)
			})

			Convey("Then a forced update should replace the pending timer", func() {
				So(clk.WaitAdvance(0, time.Second, 2), ShouldBeNil)
				So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)
				So(fetcher.count("ev-1"), ShouldEqual, 2)

				// Still exactly one timer per event after the forced poll.
				So(clk.WaitAdvance(15*time.Second, time.Second, 2), ShouldBeNil)
				So(eventually(func() bool { return fetcher.count("ev-1") == 3 }), ShouldBeTrue)
			})

			Convey("Then UpdateAll should poll every event", func() {
				So(clk.WaitAdvance(0, time.Second, 2), ShouldBeNil)
				So(s.UpdateAll(ctx), ShouldBeNil)
				So(fetcher.count("ev-1"), ShouldEqual, 2)
				So(fetcher.count("ev-2"), ShouldEqual, 2)
			})

			Convey("Then unknown events should be rejected", func() {
				So(errors.Is(s.UpdateOne(ctx, "nope"), scheduler.ErrUnknownEvent), ShouldBeTrue)
			})

			Convey("Then status should report each loop", func() {
				So(clk.WaitAdvance(0, time.Second, 2), ShouldBeNil)
				st := s.Status()
				So(st, ShouldHaveLength, 2)
				So(st[0].Ref.ID, ShouldEqual, "ev-1")
				So(st[0].Polls, ShouldEqual, 1)
				So(st[0].NextDelay, ShouldEqual, 15*time.Second)
				So(st[0].LastError, ShouldBeEmpty)
			})
		})

		Convey("When it is stopped", func() {
			So(s.Start(ctx), ShouldBeNil)
			So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)
			So(s.Stop(ctx), ShouldBeNil)

			Convey("Then the store should be cleared and loops gone", func() {
				So(store.Events(ctx), ShouldBeEmpty)
				So(s.Running(), ShouldBeFalse)
				So(clk.WaitAdvance(0, 50*time.Millisecond, 0), ShouldBeNil)
				So(errors.Is(s.UpdateOne(ctx, "ev-1"), scheduler.ErrNotRunning), ShouldBeTrue)
			})

			Convey("And it should be restartable", func() {
				So(s.Start(ctx), ShouldBeNil)
				defer func() { _ = s.Stop(ctx) }()
				So(s.UpdateOne(ctx, "ev-2"), ShouldBeNil)
				So(store.Count(ctx, "ev-2"), ShouldEqual, 1)
			})
		})
	})
}

func TestSchedulerStopCancelsInFlightFetch(t *testing.T) {
	Convey("Given a scheduler whose fetches never complete", t, func() {
		ctx := context.Background()
		fetcher := newFakeFetcher()
		fetcher.block = make(chan struct{})
		store := repository.NewMemStore()
		s := scheduler.New(fetcher, store, refs, scheduler.WithClock(testclock.NewClock(base)))
		So(s.Start(ctx), ShouldBeNil)
		So(eventually(func() bool { return fetcher.count("ev-1") == 1 && fetcher.count("ev-2") == 1 }), ShouldBeTrue)

		Convey("When it is stopped", func() {
			done := make(chan error, 1)
			go func() { done <- s.Stop(ctx) }()

			Convey("Then Stop should return after the fetches are cancelled", func() {
				select {
				case err := <-done:
					So(err, ShouldBeNil)
				case <-time.After(2 * time.Second):
					So("Stop did not return", ShouldBeEmpty)
				}
				So(store.Events(ctx), ShouldBeEmpty)
			})
		})
	})
}

func TestSchedulerPollFailures(t *testing.T) {
	Convey("Given a started scheduler with a populated event", t, func() {
		ctx := context.Background()
		clk := testclock.NewClock(base)
		fetcher := newFakeFetcher()
		fetcher.set("ev-1", row(1, "A"), row(2, "B"))
		store := repository.NewMemStore()
		logged := dedupe.NewInMemoryDeduper()
		s := scheduler.New(fetcher, store, refs[:1], scheduler.WithClock(clk), scheduler.WithDeduper(logged))
		So(s.Start(ctx), ShouldBeNil)
		defer func() { _ = s.Stop(ctx) }()
		So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)
		So(store.Count(ctx, "ev-1"), ShouldEqual, 2)

		Convey("When the next fetch fails", func() {
			fetcher.fail("ev-1", errors.New("connection reset"))
			So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)

			Convey("Then the previous snapshot should be kept and the loop rescheduled", func() {
				So(store.Count(ctx, "ev-1"), ShouldEqual, 2)
				So(s.Status()[0].LastError, ShouldContainSubstring, "connection reset")
				So(clk.WaitAdvance(15*time.Second, time.Second, 1), ShouldBeNil)
			})
		})

		Convey("When a malformed row keeps appearing", func() {
			bad := "12.07.2021|10:00:09|9|E1|Z|center|0|0.4|1.1|2.2|3.3|120|4.4|130|5.5|140|winner"
			fetcher.set("ev-1", row(1, "A"), row(2, "B"), bad)
			So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)
			So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)

			Convey("Then it should be excluded and recorded as logged once", func() {
				So(store.Count(ctx, "ev-1"), ShouldEqual, 2)
				So(logged.Size(), ShouldEqual, 1)
				So(logged.SeenAndRecord(ctx, parser.Hash(bad)), ShouldBeTrue)
			})

			Convey("And a restart should forget what was logged", func() {
				fetcher.set("ev-1", row(1, "A"))
				So(s.Stop(ctx), ShouldBeNil)
				So(s.Start(ctx), ShouldBeNil)
				So(logged.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestSchedulerEndToEndDelete(t *testing.T) {
	Convey("Given an event polled once with three rows", t, func() {
		ctx := context.Background()
		fetcher := newFakeFetcher()
		a, b, c := row(1, "A"), row(2, "B"), row(3, "C")
		fetcher.set("ev-1", a, b, c)
		store := repository.NewMemStore()
		log := &changeLog{}
		store.Listen(log.listen)
		s := scheduler.New(fetcher, store, refs[:1], scheduler.WithClock(testclock.NewClock(base)))
		So(s.Start(ctx), ShouldBeNil)
		defer func() { _ = s.Stop(ctx) }()
		So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)
		So(log.snapshot(), ShouldHaveLength, 3)

		Convey("When one row disappears before the next poll", func() {
			log.reset()
			fetcher.set("ev-1", a, c)
			So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)

			Convey("Then exactly one delete for that row should be emitted", func() {
				events := log.snapshot()
				So(events, ShouldHaveLength, 1)
				So(events[0].Kind, ShouldEqual, model.ChangeDelete)
				So(events[0].ContentHash, ShouldEqual, parser.Hash(b))
			})
		})
	})
}

func TestSchedulerSetEvents(t *testing.T) {
	Convey("Given a running scheduler over two events", t, func() {
		ctx := context.Background()
		clk := testclock.NewClock(base)
		fetcher := newFakeFetcher()
		fetcher.set("ev-1", row(1, "A"))
		fetcher.set("ev-2", row(2, "B"))
		fetcher.set("ev-3", row(3, "C"))
		store := repository.NewMemStore()
		log := &changeLog{}
		store.Listen(log.listen)
		s := scheduler.New(fetcher, store, refs, scheduler.WithClock(clk))
		So(s.Start(ctx), ShouldBeNil)
		defer func() { _ = s.Stop(ctx) }()
		So(s.UpdateAll(ctx), ShouldBeNil)

		Convey("When ev-1 is replaced by ev-3", func() {
			log.reset()
			s.SetEvents(ctx, []model.EventRef{refs[1], {ID: "ev-3", URL: "http://results.example/ev-3"}})
			So(s.UpdateOne(ctx, "ev-3"), ShouldBeNil)

			Convey("Then ev-1 should be removed with deletes and ev-3 polled", func() {
				So(store.Count(ctx, "ev-1"), ShouldEqual, 0)
				So(store.Count(ctx, "ev-3"), ShouldEqual, 1)
				So(errors.Is(s.UpdateOne(ctx, "ev-1"), scheduler.ErrUnknownEvent), ShouldBeTrue)

				deletes := 0
				for _, ev := range log.snapshot() {
					if ev.Kind == model.ChangeDelete {
						deletes++
						So(ev.EventID, ShouldEqual, "ev-1")
					}
				}
				So(deletes, ShouldEqual, 1)
				So(s.Events(), ShouldHaveLength, 2)
			})
		})

		Convey("When the scheduler is stopped and events change", func() {
			So(s.Stop(ctx), ShouldBeNil)
			s.SetEvents(ctx, refs[:1])

			Convey("Then only the new list should be polled on start", func() {
				So(s.Start(ctx), ShouldBeNil)
				So(s.UpdateOne(ctx, "ev-1"), ShouldBeNil)
				So(errors.Is(s.UpdateOne(ctx, "ev-2"), scheduler.ErrUnknownEvent), ShouldBeTrue)
				_, ok := s.Event("ev-1")
				So(ok, ShouldBeTrue)
			})
		})
	})
}
