package kafka

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raally/internal/platform/config"
)

func testConfig() config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:   []string{"localhost:9092"},
		ClientID:  "raally-test",
		Namespace: "raally",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientBeforeInitialize(t *testing.T) {
	client := NewClient(testConfig(), testLogger())
	ctx := context.Background()

	t.Run("send reports not connected", func(t *testing.T) {
		err := client.Send(ctx, "raally.user.created", "u-1", []byte("{}"), nil, time.Time{})
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("publish is best-effort false", func(t *testing.T) {
		ok := client.PublishEvent(ctx, NewEvent(EventCreated, EntityUser, "u-1"))
		assert.False(t, ok)
	})

	t.Run("typed publishers degrade the same way", func(t *testing.T) {
		assert.False(t, client.PublishUserEvent(ctx, EventLogin, "u-1", "t-1", nil))
		assert.False(t, client.PublishAuditEvent(ctx, "a-1", "t-1", "u-1", nil))
	})

	t.Run("health check fails closed", func(t *testing.T) {
		assert.False(t, client.HealthCheck(ctx))
	})

	t.Run("consumer creation reports not connected", func(t *testing.T) {
		_, err := client.CreateConsumer(ctx, "audit-logger", "raally.user.created")
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("subscribe reports not connected", func(t *testing.T) {
		err := client.SubscribeToEvents(ctx, "audit-logger", []EventType{EventCreated}, func(context.Context, Event) error { return nil })
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("disconnect is safe and repeatable", func(t *testing.T) {
		client.Disconnect()
		client.Disconnect()
	})
}

func TestPublishEventRejectsInvalid(t *testing.T) {
	client := NewClient(testConfig(), testLogger())

	event := NewEvent(EventCreated, EntityUser, "u-1")
	event.EntityID = ""
	assert.False(t, client.PublishEvent(context.Background(), event))
}

func TestConsumerLookup(t *testing.T) {
	client := NewClient(testConfig(), testLogger())

	_, ok := client.Consumer("nope")
	require.False(t, ok)
}

func TestGroupStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "receiving", StateReceiving.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}
