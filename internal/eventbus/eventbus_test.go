package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raally/internal/cache"
	"raally/internal/kafka"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditLoggerHandle(t *testing.T) {
	handler := &AuditLogger{Logger: discardLogger()}

	event := kafka.NewEvent(kafka.EventLogin, kafka.EntityUser, "u-1")
	assert.NoError(t, handler.Handle(context.Background(), event))
}

func TestCacheInvalidatorHandle(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheClient := cache.NewFromClient(rdb, discardLogger())
	ctx := context.Background()

	cacheClient.Set(ctx, "cache:project:42", "a", 0)
	cacheClient.Set(ctx, "cache:project:42:summary", "b", 0)
	cacheClient.Set(ctx, "cache:project:7", "c", 0)
	cacheClient.Set(ctx, "cache:user:42", "d", 0)

	handler := &CacheInvalidator{Cache: cacheClient, Logger: discardLogger()}
	event := kafka.NewEvent(kafka.EventUpdated, kafka.EntityProject, "42")
	require.NoError(t, handler.Handle(ctx, event))

	assert.False(t, cacheClient.Exists(ctx, "cache:project:42"))
	assert.False(t, cacheClient.Exists(ctx, "cache:project:42:summary"))
	assert.True(t, cacheClient.Exists(ctx, "cache:project:7"), "other entities untouched")
	assert.True(t, cacheClient.Exists(ctx, "cache:user:42"), "other entity types untouched")
}

func TestCacheInvalidatorReportsStoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	cacheClient := cache.NewFromClient(rdb, discardLogger())
	mr.Close()

	handler := &CacheInvalidator{Cache: cacheClient, Logger: discardLogger()}
	event := kafka.NewEvent(kafka.EventDeleted, kafka.EntityUser, "u-1")
	assert.Error(t, handler.Handle(context.Background(), event))
}

func TestNotificationDispatcherHandle(t *testing.T) {
	handler := &NotificationDispatcher{Logger: discardLogger()}

	event := kafka.NewEvent(kafka.EventCreated, kafka.EntityTenant, "t-1")
	assert.NoError(t, handler.Handle(context.Background(), event))
}
