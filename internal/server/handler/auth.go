package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/justersync/internal/domain"
	"github.com/alanyoungcy/justersync/internal/session"
)

// Session is the authenticated session.
type Session interface {
	Restore(ctx context.Context) error
	Logout(ctx context.Context, reason string)
	Token() (session.Token, bool)
}

// WalletConnector is the wallet the HTTP surface connects on behalf of the
// UI.
type WalletConnector interface {
	Connect(account domain.WalletAccount, proof *domain.Proof)
	ConnectPayload() string
}

// AuthHandler serves the wallet connection flow.
type AuthHandler struct {
	session Session
	wallet  WalletConnector
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(s Session, wallet WalletConnector, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{session: s, wallet: wallet, logger: logger}
}

type sessionResponse struct {
	LoggedIn  bool       `json:"loggedIn"`
	Address   string     `json:"address,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (h *AuthHandler) sessionState() sessionResponse {
	tok, ok := h.session.Token()
	if !ok {
		return sessionResponse{}
	}
	exp := tok.ExpiresAt
	return sessionResponse{LoggedIn: true, Address: tok.Subject, ExpiresAt: &exp}
}

// GetPayload returns the payload the wallet must sign to connect.
// GET /api/auth/payload
func (h *AuthHandler) GetPayload(w http.ResponseWriter, r *http.Request) {
	payload := h.wallet.ConnectPayload()
	state := "ready"
	if payload == "" {
		state = "loading"
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state, "payload": payload})
}

type proofRequest struct {
	Account domain.WalletAccount `json:"account"`
	Proof   *domain.Proof        `json:"proof"`
}

// SubmitProof connects the wallet with a signed proof and restores the
// session from it.
// POST /api/auth/proof
func (h *AuthHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Account.Address == "" {
		writeError(w, http.StatusBadRequest, "missing account address")
		return
	}

	h.wallet.Connect(req.Account, req.Proof)
	if err := h.session.Restore(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: restore session failed",
			slog.String("address", req.Account.Address),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to restore session")
		return
	}

	resp := h.sessionState()
	if !resp.LoggedIn {
		writeJSON(w, http.StatusUnauthorized, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSession reports the current session.
// GET /api/auth/session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionState())
}

// Logout ends the session.
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout(r.Context(), session.ReasonUserLogout)
	w.WriteHeader(http.StatusNoContent)
}
