// Package notify delivers wizard notifications to the browser and to
// downstream consumers. Every notifier is fire-and-forget.
package notify

import (
	"context"

	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the service log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("Notifications")}
}

func (n *LogNotifier) Notify(_ context.Context, note models.Notification) {
	fields := []zap.Field{
		zap.String("recipient", note.Recipient),
		zap.String("kind", string(note.Kind)),
		zap.String("message", note.Message),
	}
	switch note.Level {
	case models.LevelError:
		n.logger.Warn("User notified", fields...)
	default:
		n.logger.Debug("User notified", fields...)
	}
}

// Multi fans a notification out to every notifier in order.
type Multi []interfaces.Notifier

func (m Multi) Notify(ctx context.Context, note models.Notification) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, note)
		}
	}
}
