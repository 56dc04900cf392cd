package fixture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/racefeed/pkg/logger"
)

// HTTP server timeout constants.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	defaultInterval   = 15 * time.Second
)

// Server holds the growing results of every fixture event.
type Server struct {
	cfg *Config
	log logger.Logger

	mu    sync.RWMutex
	gens  map[string]*Generator
	rows  map[string][]string
	order []string

	races    atomic.Int64
	rowCount atomic.Int64
	requests atomic.Int64
}

// NewServer creates a fixture server and seeds cfg.InitialRaces races per
// event, all timestamped now.
func NewServer(cfg *Config) *Server {
	s := &Server{
		cfg:  cfg,
		log:  logger.Get().Named("fixture"),
		gens: make(map[string]*Generator, len(cfg.Events)),
		rows: make(map[string][]string, len(cfg.Events)),
	}
	for _, id := range cfg.Events {
		if _, dup := s.gens[id]; dup {
			continue
		}
		s.gens[id] = NewGenerator(id, cfg.MalformedEvery, cfg.Location)
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)

	now := time.Now()
	for i := 0; i < cfg.InitialRaces; i++ {
		s.Tick(now)
	}
	return s
}

// Tick appends one race to every event.
func (s *Server) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		rows := s.gens[id].Race(now)
		s.rows[id] = append(s.rows[id], rows...)
		s.rowCount.Add(int64(len(rows)))
	}
	s.races.Add(1)
}

// Rows returns a copy of the rows currently served for id.
func (s *Server) Rows(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.rows[id]...)
}

// Stats returns the fixture counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	malformed := 0
	for _, g := range s.gens {
		malformed += g.Malformed()
	}
	s.mu.RUnlock()
	return Stats{
		Races:     s.races.Load(),
		Rows:      s.rowCount.Load(),
		Malformed: int64(malformed),
		Requests:  s.requests.Load(),
	}
}

// Handler returns the HTTP routes of the fixture.
//
//	GET /             -> index of events
//	GET /events/{id}  -> results page of one event
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderIndex(w, s.order); err != nil {
			s.log.Error(r.Context(), "render index failed", logger.Error(err))
		}
	})
	mux.HandleFunc("GET /events/{id}", s.handlePage)
	return mux
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	id := r.PathValue("id")

	s.mu.RLock()
	_, ok := s.gens[id]
	rows := s.rows[id]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderPage(w, id, rows); err != nil {
		s.log.Error(r.Context(), "render page failed", logger.String("event_id", id), logger.Error(err))
	}
}

// Run serves the fixture on cfg.Addr and appends a race per event every
// cfg.Interval until ctx is cancelled.
func Run(ctx context.Context, cfg *Config) error {
	if len(cfg.Events) == 0 {
		return errors.New("no events configured")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	s := NewServer(cfg)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "starting fixture server",
			logger.String("addr", cfg.Addr),
			logger.Int("events", len(s.order)),
			logger.Duration("interval", interval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("fixture server failed: %w", err)
			}
			return nil
		case now := <-ticker.C:
			s.Tick(now)
			st := s.Stats()
			s.log.Debug(ctx, "race appended",
				logger.Any("races", st.Races),
				logger.Any("rows", st.Rows),
				logger.Any("malformed", st.Malformed))
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("fixture shutdown failed: %w", err)
			}
			displayFinalStats(s.Stats())
			return nil
		}
	}
}

func displayFinalStats(st Stats) {
	logger.Get().Info(context.Background(), "final statistics",
		logger.Any("races", st.Races),
		logger.Any("rows", st.Rows),
		logger.Any("malformed", st.Malformed),
		logger.Any("requests", st.Requests))
}
