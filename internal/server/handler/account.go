package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/state"
)

// AccountState is the user-scoped projection the handler reads.
type AccountState interface {
	Address() string
	LoggedIn() bool
	PositionsLoading() bool
	Balance() domain.Balance
	PositionsForWithdrawal() []domain.Position
	WonPositions() []domain.Position
	Withdrawals() []domain.Withdrawal
}

// UserLookup serves one-shot user reads from the indexer.
type UserLookup interface {
	User(ctx context.Context, address string) (domain.User, bool, error)
	UserPositions(ctx context.Context, address string) ([]domain.Position, error)
	TopBettors(ctx context.Context) []domain.User
	TopLiquidityProviders(ctx context.Context) []domain.User
}

// AccountHandler serves the active account and user lookups.
type AccountHandler struct {
	account AccountState
	events  EventState
	users   UserLookup
	logger  *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(account AccountState, events EventState, users UserLookup, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{account: account, events: events, users: users, logger: logger}
}

type accountResponse struct {
	Address                string              `json:"address"`
	LoggedIn               bool                `json:"loggedIn"`
	PositionsLoading       bool                `json:"positionsLoading"`
	Balance                domain.Balance      `json:"balance"`
	PositionsForWithdrawal []domain.Position   `json:"positionsForWithdrawal"`
	WonPositions           []domain.Position   `json:"wonPositions"`
	Withdrawals            []domain.Withdrawal `json:"withdrawals"`
	ParticipatedEvents     []domain.Event      `json:"participatedEvents"`
}

// GetAccount returns every view of the logged-in user.
// GET /api/account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	if !h.account.LoggedIn() {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Address:                h.account.Address(),
		LoggedIn:               true,
		PositionsLoading:       h.account.PositionsLoading(),
		Balance:                h.account.Balance(),
		PositionsForWithdrawal: nonNil(h.account.PositionsForWithdrawal()),
		WonPositions:           nonNil(h.account.WonPositions()),
		Withdrawals:            nonNil(h.account.Withdrawals()),
		ParticipatedEvents:     nonNil(h.events.Events(state.KeyParticipatedEvents)),
	})
}

// GetUser returns the aggregate counters and positions of any address.
// GET /api/users/{address}
func (h *AccountHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	user, ok, err := h.users.User(r.Context(), address)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	positions, err := h.users.UserPositions(r.Context(), address)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "positions": nonNil(positions)})
}

// Leaderboard returns the top bettors and liquidity providers.
// GET /api/leaderboard
func (h *AccountHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"bettors":   nonNil(h.users.TopBettors(r.Context())),
		"providers": nonNil(h.users.TopLiquidityProviders(r.Context())),
	})
}
