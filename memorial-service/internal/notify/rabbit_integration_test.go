package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"memorial-server/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func TestRabbitNotifier_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rmqContainer.Terminate(context.Background()) })
	url, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()

	const queue = "memorial_client_updates_test"
	ch, err := DeclareClientUpdatesQueue(conn, queue)
	require.NoError(t, err)
	defer ch.Close()

	n := NewRabbitNotifier(ch, queue, zap.NewNop())
	go n.Run(ctx)
	n.Notify(ctx, models.Notification{Recipient: "user:42", Kind: models.KindToast, Level: models.LevelSuccess, Message: "Published"})

	consumer, err := conn.Channel()
	require.NoError(t, err)
	defer consumer.Close()
	deliveries, err := consumer.Consume(queue, "", true, false, false, false, nil)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		assert.Equal(t, "memorial-service", d.AppId)
		var update ClientUpdate
		require.NoError(t, json.Unmarshal(d.Body, &update))
		assert.Equal(t, "user:42", update.Recipient)
		assert.Equal(t, "Published", update.Notification.Message)
	case <-ctx.Done():
		t.Fatal("client update was not delivered")
	}
}
