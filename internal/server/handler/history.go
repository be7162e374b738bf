package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// QuoteArchive serves archived quotes.
type QuoteArchive interface {
	ListRecent(ctx context.Context, symbol string, limit int) ([]domain.Quote, error)
	ListRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Quote, error)
}

// HistoryHandler serves the quote archive.
type HistoryHandler struct {
	archive QuoteArchive
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. A nil archive answers 503.
func NewHistoryHandler(archive QuoteArchive, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{archive: archive, logger: logger}
}

// QuoteHistory returns archived quotes of a market, newest first. With from
// (and optionally to) it returns that time range, otherwise the newest limit
// quotes.
// GET /api/markets/{symbol}/history?limit=500
// GET /api/markets/{symbol}/history?from=2026-01-01T00:00:00Z&to=...
func (h *HistoryHandler) QuoteHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "quote archive disabled")
		return
	}
	symbol := pathParam(r, "symbol")

	from, hasFrom, err := queryTime(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, hasTo, err := queryTime(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var quotes []domain.Quote
	if hasFrom {
		if !hasTo {
			to = time.Now().UTC()
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "to is before from")
			return
		}
		quotes, err = h.archive.ListRange(r.Context(), symbol, from, to)
	} else {
		quotes, err = h.archive.ListRecent(r.Context(), symbol, parseLimit(r, 500, 5000))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: quote history failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "failed to load quote history")
		return
	}
	if quotes == nil {
		quotes = []domain.Quote{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "quotes": quotes})
}
