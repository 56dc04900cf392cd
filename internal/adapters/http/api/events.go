package api

import (
	"context"
	"net/http"

	"github.com/okian/racefeed/internal/domain/types"
)

// EventDependencies defines the pull and refresh operations.
type EventDependencies interface {
	ListEvents(ctx context.Context) ([]types.Event, error)
	ListEventData(ctx context.Context, eventID string) ([]types.Result, error)
	ListAllEventData(ctx context.Context) (map[string][]types.Result, error)
	Refresh(ctx context.Context, eventID string) error
	RefreshAll(ctx context.Context) error
}

// EventsHandler handles event and result requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandleListEvents handles GET /events requests.
func (h *EventsHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_events"
	events, err := h.deps.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleEventResults handles GET /events/{id}/results requests.
func (h *EventsHandler) HandleEventResults(w http.ResponseWriter, r *http.Request) {
	const op = "api.event_results"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	results, err := h.deps.ListEventData(r.Context(), id)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{EventID: id, Results: results})
}

// HandleAllResults handles GET /results requests.
func (h *EventsHandler) HandleAllResults(w http.ResponseWriter, r *http.Request) {
	const op = "api.all_results"
	all, err := h.deps.ListAllEventData(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// HandleRefreshEvent handles POST /events/{id}/refresh requests.
func (h *EventsHandler) HandleRefreshEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.refresh_event"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	if err := h.deps.Refresh(r.Context(), id); err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Status: "refreshed"})
}

// HandleRefreshAll handles POST /refresh requests.
func (h *EventsHandler) HandleRefreshAll(w http.ResponseWriter, r *http.Request) {
	const op = "api.refresh_all"
	if err := h.deps.RefreshAll(r.Context()); err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Status: "refreshed"})
}
