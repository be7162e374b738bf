// Package notify delivers user-visible notifications. Every notification is
// shown as a toast through the state store and, when its level is enabled,
// forwarded to the operator channels (Telegram, Discord).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/justersync/internal/state"
)

// Message is what external channels receive.
type Message struct {
	Level string
	Title string
	Body  string
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Toasts is the in-app notification list.
type Toasts interface {
	Create(note state.Notification) string
}

// Notifier shows toasts and forwards them to Senders. Only levels in the
// allowed set are forwarded; an empty set forwards every level.
type Notifier struct {
	toasts  Toasts
	senders []Sender
	levels  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. toasts may be nil for headless use.
func NewNotifier(toasts Toasts, senders []Sender, levels []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(levels))
	for _, l := range levels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			allowed[l] = true
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		toasts:  toasts,
		senders: senders,
		levels:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Push shows note as a toast and forwards it to the senders. It returns the
// toast id, empty when there is no toast list.
func (n *Notifier) Push(ctx context.Context, note state.Notification) string {
	note.Type = strings.ToLower(note.Type)
	var id string
	if n.toasts != nil {
		id = n.toasts.Create(note)
	}

	if len(n.levels) > 0 && !n.levels[note.Type] {
		n.logger.DebugContext(ctx, "level filtered out", slog.String("level", note.Type))
		return id
	}
	if err := n.dispatch(ctx, Message{Level: note.Type, Title: note.Title, Body: note.Description}); err != nil {
		n.logger.WarnContext(ctx, "notification not delivered everywhere", slog.String("error", err.Error()))
	}
	return id
}

// dispatch sends msg to every sender. A failing sender does not prevent
// delivery to the others; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
