package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// PoolLookup serves liquidity pool reads from the indexer.
type PoolLookup interface {
	Pools(ctx context.Context) []domain.Pool
	PoolLines(ctx context.Context) []domain.PoolLine
	PoolStatesInRange(ctx context.Context, poolID string, after, before time.Time) ([]domain.PoolState, error)
}

// PoolHandler serves pool endpoints.
type PoolHandler struct {
	lookup PoolLookup
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(lookup PoolLookup, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{lookup: lookup, logger: logger}
}

// ListPools returns every pool.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pools": nonNil(h.lookup.Pools(r.Context()))})
}

// ListPoolLines returns the event templates of every pool.
// GET /api/pools/lines
func (h *PoolHandler) ListPoolLines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lines": nonNil(h.lookup.PoolLines(r.Context()))})
}

// PoolStates returns the states of a pool strictly between from and to. to
// defaults to now and from to one day before to.
// GET /api/pools/{address}/states?from=...&to=...
func (h *PoolHandler) PoolStates(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
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
	if !hasTo {
		to = time.Now().UTC()
	}
	if !hasFrom {
		from = to.Add(-24 * time.Hour)
	}

	states, err := h.lookup.PoolStatesInRange(r.Context(), address, from, to)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool": address, "states": nonNil(states)})
}
