package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"memorial-server/memorial-service/internal/retry"
	"memorial-server/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishTimeout = 10 * time.Second
	rabbitBuffer   = 1024
)

// Publisher is the part of *amqp.Channel the notifier uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ClientUpdate is the message put on the client-updates queue.
type ClientUpdate struct {
	Recipient    string              `json:"recipient"`
	Notification models.Notification `json:"notification"`
}

// RabbitNotifier forwards notifications to a durable queue so other
// services (push, email) can react. Notify only buffers; Run publishes.
type RabbitNotifier struct {
	channel   Publisher
	queueName string
	pending   chan ClientUpdate
	policy    retry.Policy
	logger    *zap.Logger
}

// DeclareClientUpdatesQueue opens a channel on conn and declares queueName.
func DeclareClientUpdatesQueue(conn *amqp.Connection, queueName string) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("client update publisher: failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("client update publisher: failed to declare queue '%s': %w", queueName, err)
	}
	return ch, nil
}

func NewRabbitNotifier(channel Publisher, queueName string, logger *zap.Logger) *RabbitNotifier {
	return &RabbitNotifier{
		channel:   channel,
		queueName: queueName,
		pending:   make(chan ClientUpdate, rabbitBuffer),
		policy:    retry.Policy{Attempts: 3, Delay: 100 * time.Millisecond, Exponential: true, Timeout: publishTimeout},
		logger:    logger.Named("RabbitNotifier").With(zap.String("queue", queueName)),
	}
}

// Notify buffers note for publishing and drops it when the buffer is full.
func (n *RabbitNotifier) Notify(_ context.Context, note models.Notification) {
	select {
	case n.pending <- ClientUpdate{Recipient: note.Recipient, Notification: note}:
	default:
		n.logger.Warn("Publish buffer full, dropping notification", zap.String("recipient", note.Recipient))
	}
}

// Run publishes buffered notifications until ctx is done.
func (n *RabbitNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-n.pending:
			if err := n.publish(ctx, update); err != nil {
				n.logger.Error("Failed to publish client update", zap.String("recipient", update.Recipient), zap.Error(err))
			}
		}
	}
}

func (n *RabbitNotifier) publish(ctx context.Context, update ClientUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal client update: %w", err)
	}
	return retry.Run(ctx, n.policy, func(ctx context.Context) error {
		return n.channel.PublishWithContext(ctx, "", n.queueName, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        "memorial-service",
		})
	})
}
