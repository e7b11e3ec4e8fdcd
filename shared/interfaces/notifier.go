package interfaces

import (
	"context"

	"memorial-server/shared/models"
)

// Notifier delivers user-facing feedback. Implementations must not block the
// caller on delivery and must never fail it.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}
