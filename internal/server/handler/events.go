package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// EventReader replays the durable pool event stream.
type EventReader interface {
	RecentEvents(ctx context.Context, lastID string, count int) ([]domain.PoolEvent, string, error)
}

// EventsHandler serves the pool event history.
type EventsHandler struct {
	events EventReader
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(events EventReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{events: events, logger: logHandler(logger, "events")}
}

type listEventsResponse struct {
	Events []domain.PoolEvent `json:"events"`
	// Next is the cursor to pass as ?after= for the following page.
	Next string `json:"next"`
}

// ListEvents pages through pool events in publication order.
// GET /events?after=0&count=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusUnprocessableEntity, codeUnprocessable, "query parameter count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	events, next, err := h.events.RecentEvents(r.Context(), after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, codeUnavailable, "failed to read events")
		return
	}
	if events == nil {
		events = []domain.PoolEvent{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events, Next: next})
}
