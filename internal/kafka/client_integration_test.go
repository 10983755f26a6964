//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raally/internal/platform/config"
	"raally/pkg/testutil/containers"
)

func TestBrokerClientIntegration(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)
	ctx := context.Background()

	cfg := config.KafkaConfig{
		Brokers:   rp.Brokers,
		ClientID:  "raally-it",
		Namespace: "raally",
	}
	client := NewClient(cfg, testLogger())
	require.NoError(t, client.Initialize(ctx))
	t.Cleanup(client.Disconnect)

	t.Run("initialize is idempotent", func(t *testing.T) {
		require.NoError(t, client.Initialize(ctx))
	})

	t.Run("health check publishes a probe", func(t *testing.T) {
		assert.True(t, client.HealthCheck(ctx))
	})

	received := make(chan Event, 16)
	handler := func(_ context.Context, event Event) error {
		received <- event
		return nil
	}

	t.Run("subscribe derives the broad topic set", func(t *testing.T) {
		require.NoError(t, client.SubscribeToEvents(ctx, "audit-logger",
			[]EventType{EventUpdated, EventDeleted}, handler))

		group, ok := client.Consumer("audit-logger")
		require.True(t, ok)
		assert.Equal(t, StateReceiving, group.State())

		topics := group.Topics()
		assert.Len(t, topics, 2*len(EntityTypes()))
		assert.Contains(t, topics, "raally.project.updated")
		assert.Contains(t, topics, "raally.audit.deleted")
	})

	t.Run("re-subscribing the same group is deduplicated", func(t *testing.T) {
		before, ok := client.Consumer("audit-logger")
		require.True(t, ok)

		require.NoError(t, client.SubscribeToEvents(ctx, "audit-logger",
			[]EventType{EventUpdated}, handler))

		after, ok := client.Consumer("audit-logger")
		require.True(t, ok)
		assert.Same(t, before, after)
	})

	t.Run("published event round-trips to the handler", func(t *testing.T) {
		sent := NewEvent(EventUpdated, EntityProject, "42")
		sent.UserID = "u-1"
		sent.TenantID = "t-1"
		sent.Metadata = map[string]any{"field": "name"}
		require.True(t, client.PublishEvent(ctx, sent))

		select {
		case got := <-received:
			assert.Equal(t, sent, got)
		case <-time.After(30 * time.Second):
			t.Fatal("event was not delivered")
		}
	})

	t.Run("handler errors do not stop the loop", func(t *testing.T) {
		require.NoError(t, client.SubscribeToEvents(ctx, "flaky-group",
			[]EventType{EventDeleted}, func(context.Context, Event) error {
				return assert.AnError
			}))

		require.True(t, client.PublishEvent(ctx, NewEvent(EventDeleted, EntityUser, "u-9")))
		// Give the loop time to absorb the failure, then confirm it is alive.
		time.Sleep(2 * time.Second)
		group, ok := client.Consumer("flaky-group")
		require.True(t, ok)
		assert.Equal(t, StateReceiving, group.State())
	})

	t.Run("disconnect stops every group", func(t *testing.T) {
		group, ok := client.Consumer("audit-logger")
		require.True(t, ok)

		client.Disconnect()
		assert.Equal(t, StateDisconnected, group.State())

		_, ok = client.Consumer("audit-logger")
		assert.False(t, ok, "registry cleared")
	})
}
