// Package eventbus declares the standing subscriptions that run for the
// process lifetime: audit logging, cache invalidation, and notification
// dispatch. Handlers are plain values behind the Handler interface so a
// real audit sink or notification provider can be substituted without
// touching registration.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"raally/internal/cache"
	"raally/internal/kafka"
)

// Consumer group ids. Stable: the broker uses them for partition assignment.
const (
	GroupAuditLogger         = "audit-logger"
	GroupCacheInvalidator    = "cache-invalidator"
	GroupNotificationService = "notification-service"
)

// Handler processes one event delivered to a standing subscription.
type Handler interface {
	Handle(ctx context.Context, event kafka.Event) error
}

// AuditLogger emits a structured log line per event. Stands in for
// persisting to a dedicated audit store.
type AuditLogger struct {
	Logger *slog.Logger
}

func (h *AuditLogger) Handle(ctx context.Context, event kafka.Event) error {
	h.Logger.Info("audit event",
		"event_type", event.EventType,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"user_id", event.UserID,
		"tenant_id", event.TenantID,
		"timestamp", event.Timestamp,
	)
	return nil
}

// CacheInvalidator drops every cached projection of an entity when it
// changes or disappears.
type CacheInvalidator struct {
	Cache  *cache.Client
	Logger *slog.Logger
}

func (h *CacheInvalidator) Handle(ctx context.Context, event kafka.Event) error {
	pattern := fmt.Sprintf("cache:%s:%s*", event.EntityType, event.EntityID)
	if !h.Cache.FlushByPattern(ctx, pattern) {
		return fmt.Errorf("flush pattern %s", pattern)
	}
	h.Logger.Info("cache invalidated", "pattern", pattern)
	return nil
}

// NotificationDispatcher logs events that would trigger user-facing
// notifications. Stands in for a real dispatch integration.
type NotificationDispatcher struct {
	Logger *slog.Logger
}

func (h *NotificationDispatcher) Handle(ctx context.Context, event kafka.Event) error {
	h.Logger.Info("notification event",
		"event_type", event.EventType,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
	)
	return nil
}

// Register establishes the three standing subscriptions. All must be live
// before service initialization returns so no event published immediately
// after startup is missed; within that constraint they are independent and
// set up concurrently.
func Register(ctx context.Context, broker *kafka.Client, cacheClient *cache.Client, logger *slog.Logger) error {
	subscriptions := []struct {
		group   string
		kinds   []kafka.EventType
		handler Handler
	}{
		{
			group: GroupAuditLogger,
			kinds: []kafka.EventType{
				kafka.EventCreated, kafka.EventUpdated, kafka.EventDeleted,
				kafka.EventLogin, kafka.EventLogout, kafka.EventActionPerformed,
			},
			handler: &AuditLogger{Logger: logger},
		},
		{
			group:   GroupCacheInvalidator,
			kinds:   []kafka.EventType{kafka.EventUpdated, kafka.EventDeleted},
			handler: &CacheInvalidator{Cache: cacheClient, Logger: logger},
		},
		{
			group:   GroupNotificationService,
			kinds:   []kafka.EventType{kafka.EventCreated, kafka.EventUpdated},
			handler: &NotificationDispatcher{Logger: logger},
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subscriptions {
		g.Go(func() error {
			return broker.SubscribeToEvents(gctx, sub.group, sub.kinds, sub.handler.Handle)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("register event consumers: %w", err)
	}

	logger.Info("event consumers registered")
	return nil
}
