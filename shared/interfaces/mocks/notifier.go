package mocks

import (
	"context"
	"sync"

	"memorial-server/shared/models"
)

// Notifier records every notification it receives.
type Notifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *Notifier) Notify(_ context.Context, note models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

// Sent returns a copy of what was delivered so far.
func (n *Notifier) Sent() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.sent...)
}

// OfKind filters Sent by kind.
func (n *Notifier) OfKind(kind models.NotificationKind) []models.Notification {
	var out []models.Notification
	for _, note := range n.Sent() {
		if note.Kind == kind {
			out = append(out, note)
		}
	}
	return out
}
