package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxNotifications   = 4
	notificationExpiry = 8 * time.Second
)

// Notification levels.
const (
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
	NotificationInfo    = "info"
)

// NotificationAction is a follow-up the UI may offer, e.g. a route to open.
type NotificationAction struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// Notification is a toast-style message shown to the user.
type Notification struct {
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	AutoDestroy bool                 `json:"autoDestroy"`
	Actions     []NotificationAction `json:"actions,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
}

// RowID implements Row.
func (n Notification) RowID() string { return n.ID }

// Notifications is the newest-first toast list.
type Notifications struct {
	s      *Store
	expiry time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewNotifications returns the notifications facade of s.
func NewNotifications(s *Store) *Notifications {
	return &Notifications{
		s:      s,
		expiry: notificationExpiry,
		timers: make(map[string]*time.Timer),
	}
}

// Create adds n at the head of the list, dropping the oldest entry when the
// list is full, and returns the assigned id. Auto-destroy notifications are
// removed after a fixed delay.
func (n *Notifications) Create(note Notification) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	note.ID = uuid.NewString()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	items := Rows[Notification](n.s, KeyNotifications)
	if len(items) >= maxNotifications {
		oldest := items[len(items)-1]
		n.s.RemoveByID(KeyNotifications, oldest.ID)
		n.stopTimerLocked(oldest.ID)
	}

	n.s.PrependIf(KeyNotifications, note, func(Row, bool) bool { return true })

	if note.AutoDestroy {
		id := note.ID
		n.timers[id] = time.AfterFunc(n.expiry, func() { n.Remove(id) })
	}
	return note.ID
}

// Remove drops the notification with the given id.
func (n *Notifications) Remove(id string) bool {
	n.mu.Lock()
	n.stopTimerLocked(id)
	n.mu.Unlock()
	return n.s.RemoveByID(KeyNotifications, id)
}

// Items returns the notifications, newest first.
func (n *Notifications) Items() []Notification {
	return Rows[Notification](n.s, KeyNotifications)
}

// Close stops pending auto-destroy timers.
func (n *Notifications) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id := range n.timers {
		n.stopTimerLocked(id)
	}
}

func (n *Notifications) stopTimerLocked(id string) {
	if t, ok := n.timers[id]; ok {
		t.Stop()
		delete(n.timers, id)
	}
}
