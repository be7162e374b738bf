package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/state"
)

// EventState is the event projection the handler reads.
type EventState interface {
	Events(key state.Key) []domain.Event
}

// FilteredView is the live view behind the filtered event list.
type FilteredView interface {
	Start(ctx context.Context, marketID int64, status domain.EventStatus) error
}

// EventLookup serves one-shot event reads from the indexer.
type EventLookup interface {
	EventByID(ctx context.Context, id int64) (domain.Event, bool, error)
	EventParticipants(ctx context.Context, eventID int64) ([]domain.Position, error)
	EventTVL(ctx context.Context, eventID int64) ([]domain.TVLPoint, error)
	BetsByEvent(ctx context.Context, eventID int64) ([]domain.Bet, error)
	BetsByUser(ctx context.Context, eventID int64, address string) ([]domain.Bet, error)
	DepositsByEvent(ctx context.Context, eventID int64) ([]domain.Deposit, error)
}

// EventHandler serves event endpoints.
type EventHandler struct {
	events   EventState
	filtered FilteredView
	lookup   EventLookup
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventState, filtered FilteredView, lookup EventLookup, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, filtered: filtered, lookup: lookup, logger: logger}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// TopEvents returns the live top events.
// GET /api/events/top
func (h *EventHandler) TopEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(h.events.Events(state.KeyTopEvents))})
}

// ActiveEvents returns the live NEW events.
// GET /api/events/active
func (h *EventHandler) ActiveEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(h.events.Events(state.KeyActiveEvents))})
}

// FilteredEvents points the filtered view at the requested market and status
// and returns its seeded contents. Later pushes reach WebSocket clients
// subscribed to "events:filtered".
// GET /api/events?market=2&status=NEW
func (h *EventHandler) FilteredEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var marketID int64
	if v := q.Get("market"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid market")
			return
		}
		marketID = id
	}
	status := domain.EventStatus(strings.ToUpper(q.Get("status")))
	if status == "" {
		status = domain.EventStatusNew
	}

	if err := h.filtered.Start(r.Context(), marketID, status); err != nil {
		h.logger.WarnContext(r.Context(), "handler: filtered events failed",
			slog.Int64("market", marketID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market": marketID,
		"status": status,
		"events": nonNil(h.events.Events(state.KeyFilteredEvents)),
	})
}

// GetEvent returns one event by id.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	event, ok, err := h.lookup.EventByID(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// EventParticipants returns the positions held in an event.
// GET /api/events/{id}/participants
func (h *EventHandler) EventParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := h.lookup.EventParticipants(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": nonNil(positions)})
}

// EventTVL returns the total-value-locked series of an event.
// GET /api/events/{id}/tvl
func (h *EventHandler) EventTVL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := h.lookup.EventTVL(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tvl": nonNil(points)})
}

// EventBets returns the bets of an event, narrowed to one address when the
// user parameter is set.
// GET /api/events/{id}/bets?user=tz1...
func (h *EventHandler) EventBets(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var bets []domain.Bet
	if user := r.URL.Query().Get("user"); user != "" {
		bets, err = h.lookup.BetsByUser(r.Context(), id, user)
	} else {
		bets, err = h.lookup.BetsByEvent(r.Context(), id)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": nonNil(bets)})
}

// EventDeposits returns the liquidity deposits of an event.
// GET /api/events/{id}/deposits
func (h *EventHandler) EventDeposits(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deposits, err := h.lookup.DepositsByEvent(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": nonNil(deposits)})
}
