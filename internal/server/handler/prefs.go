package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/justersync/internal/domain"
)

// PrefsStore is the persistent preference set.
type PrefsStore interface {
	Flags(ctx context.Context) (map[string]bool, error)
	UpdateFlag(ctx context.Context, name string, value bool) error
	Network(ctx context.Context) (domain.Network, error)
	SetNetwork(ctx context.Context, n domain.Network) error
	OnboardingShown(ctx context.Context) (bool, error)
	MarkOnboardingShown(ctx context.Context) error
}

// PrefsHandler serves flags, the network choice and the onboarding flag.
type PrefsHandler struct {
	prefs  PrefsStore
	active domain.Network
	logger *slog.Logger
}

// NewPrefsHandler creates a PrefsHandler. active is the network this process
// is running against.
func NewPrefsHandler(prefs PrefsStore, active domain.Network, logger *slog.Logger) *PrefsHandler {
	return &PrefsHandler{prefs: prefs, active: active, logger: logger}
}

func (h *PrefsHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, statusFor(err), err.Error())
}

// GetFlags returns the feature flags.
// GET /api/flags
func (h *PrefsHandler) GetFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.prefs.Flags(r.Context())
	if err != nil {
		h.fail(w, r, "get flags", err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

type flagRequest struct {
	Value bool `json:"value"`
}

// UpdateFlag sets one known flag.
// PUT /api/flags/{name}
func (h *PrefsHandler) UpdateFlag(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.prefs.UpdateFlag(r.Context(), pathParam(r, "name"), req.Value); err != nil {
		h.fail(w, r, "update flag", err)
		return
	}
	h.GetFlags(w, r)
}

type networkResponse struct {
	Active domain.Network `json:"active"`
	Stored domain.Network `json:"stored"`
}

// GetNetwork returns the running and the stored network. They differ after
// a switch until the next restart.
// GET /api/network
func (h *PrefsHandler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	stored, err := h.prefs.Network(r.Context())
	if err != nil {
		h.fail(w, r, "get network", err)
		return
	}
	writeJSON(w, http.StatusOK, networkResponse{Active: h.active, Stored: stored})
}

type networkRequest struct {
	Network domain.Network `json:"network"`
}

// SetNetwork stores the network used from the next start on.
// PUT /api/network
func (h *PrefsHandler) SetNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.prefs.SetNetwork(r.Context(), req.Network); err != nil {
		h.fail(w, r, "set network", err)
		return
	}
	writeJSON(w, http.StatusOK, networkResponse{Active: h.active, Stored: req.Network})
}

// GetOnboarding reports whether onboarding was shown.
// GET /api/onboarding
func (h *PrefsHandler) GetOnboarding(w http.ResponseWriter, r *http.Request) {
	shown, err := h.prefs.OnboardingShown(r.Context())
	if err != nil {
		h.fail(w, r, "get onboarding", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shown": shown})
}

// CompleteOnboarding marks onboarding as shown.
// POST /api/onboarding
func (h *PrefsHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := h.prefs.MarkOnboardingShown(r.Context()); err != nil {
		h.fail(w, r, "complete onboarding", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shown": true})
}
