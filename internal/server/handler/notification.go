package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/justersync/internal/state"
)

// NotificationList is the toast list.
type NotificationList interface {
	Items() []state.Notification
	Remove(id string) bool
}

// NotificationHandler serves the toast list.
type NotificationHandler struct {
	notes  NotificationList
	logger *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notes NotificationList, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{notes: notes, logger: logger}
}

// ListNotifications returns the notifications, newest first.
// GET /api/notifications
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"notifications": nonNil(h.notes.Items())})
}

// DismissNotification removes one notification.
// DELETE /api/notifications/{id}
func (h *NotificationHandler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	if !h.notes.Remove(pathParam(r, "id")) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
