package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/justersync/internal/cache/redis"
)

// ChangeJournal replays the ordered state change journal.
type ChangeJournal interface {
	Journal(ctx context.Context, lastID string, count int) ([]redis.JournalEntry, error)
}

// ChangesHandler lets clients catch up on state changes they missed while
// disconnected from /ws.
type ChangesHandler struct {
	journal ChangeJournal
	logger  *slog.Logger
}

// NewChangesHandler creates a ChangesHandler.
func NewChangesHandler(journal ChangeJournal, logger *slog.Logger) *ChangesHandler {
	return &ChangesHandler{journal: journal, logger: logger}
}

// ListChanges returns change events appended after the given stream id.
// GET /api/changes?after=1700000000000-0&limit=100
func (h *ChangesHandler) ListChanges(w http.ResponseWriter, r *http.Request) {
	entries, err := h.journal.Journal(r.Context(), r.URL.Query().Get("after"), parseLimit(r, 100, 1000))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read change journal failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read changes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": nonNil(entries)})
}
