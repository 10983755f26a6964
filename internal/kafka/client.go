package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"raally/internal/platform/config"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raally_events_published_total",
		Help: "Events successfully published to the broker, by topic",
	}, []string{"topic"})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raally_event_publish_failures_total",
		Help: "Event publications that failed and were dropped best-effort",
	})

	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raally_events_consumed_total",
		Help: "Events delivered to consumer-group handlers, by group",
	}, []string{"group"})

	handlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raally_event_handler_failures_total",
		Help: "Handler invocations that returned an error or panicked, by group",
	}, []string{"group"})
)

var tracer trace.Tracer = otel.Tracer("raally/internal/kafka")

// ErrNotConnected is returned when the producer side is used before
// Initialize has completed.
var ErrNotConnected = errors.New("kafka producer not connected")

// EventHandler processes one decoded event. Errors are logged and do not
// stop the owning receive loop.
type EventHandler func(ctx context.Context, event Event) error

// Client owns the shared producer connection and the consumer-group
// registry. Construct with NewClient, connect with Initialize; all other
// code borrows the instance through the service manager.
type Client struct {
	cfg    config.KafkaConfig
	logger *slog.Logger

	mu        sync.Mutex
	producer  *kgo.Client
	admin     *kadm.Client
	consumers map[string]*ConsumerGroup
}

// NewClient builds an unconnected client. No network I/O happens here.
func NewClient(cfg config.KafkaConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:       cfg,
		logger:    logger,
		consumers: make(map[string]*ConsumerGroup),
	}
}

// Namespace reports the topic namespace this client produces into.
func (c *Client) Namespace() string { return c.cfg.Namespace }

// Initialize connects the producer side. It must complete before any
// publish call; a connection failure here is fatal to service startup.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.producer != nil {
		return nil
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ClientID(c.cfg.ClientID),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	if err := producer.Ping(ctx); err != nil {
		producer.Close()
		return fmt.Errorf("kafka producer ping: %w", err)
	}

	c.producer = producer
	c.admin = kadm.NewClient(producer)
	c.logger.Info("kafka producer connected", "brokers", c.cfg.Brokers, "client_id", c.cfg.ClientID)
	return nil
}

// Send publishes one message and surfaces transport failures to the caller,
// who decides the retry policy.
func (c *Client) Send(ctx context.Context, topic, key string, value []byte, headers map[string]string, ts time.Time) error {
	c.mu.Lock()
	producer := c.producer
	c.mu.Unlock()
	if producer == nil {
		return ErrNotConnected
	}

	rec := &kgo.Record{
		Topic: topic,
		Value: value,
	}
	if key != "" {
		rec.Key = []byte(key)
	}
	if !ts.IsZero() {
		rec.Timestamp = ts
	}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// PublishEvent derives the topic, serializes the event, and sends it.
// Publication is best-effort relative to the business operation that
// triggered it: failures are logged and reported as false, never raised.
func (c *Client) PublishEvent(ctx context.Context, event Event) bool {
	ctx, span := tracer.Start(ctx, "kafka.publish_event", trace.WithAttributes(
		attribute.String("event.type", string(event.EventType)),
		attribute.String("entity.type", string(event.EntityType)),
		attribute.String("entity.id", event.EntityID),
	))
	defer span.End()

	if err := event.Validate(); err != nil {
		c.logger.Error("refusing to publish invalid event", "error", err)
		publishFailures.Inc()
		return false
	}

	value, err := event.Marshal()
	if err != nil {
		c.logger.Error("failed to encode event", "error", err)
		publishFailures.Inc()
		return false
	}

	tenantID := event.TenantID
	if tenantID == "" {
		tenantID = "default"
	}
	headers := map[string]string{
		"eventType":  string(event.EventType),
		"entityType": string(event.EntityType),
		"tenantId":   tenantID,
	}

	topic := event.Topic(c.cfg.Namespace)
	if err := c.Send(ctx, topic, event.EntityID, value, headers, time.Time{}); err != nil {
		c.logger.Error("failed to publish event",
			"topic", topic,
			"entity_id", event.EntityID,
			"error", err,
		)
		publishFailures.Inc()
		return false
	}

	eventsPublished.WithLabelValues(topic).Inc()
	return true
}

// PublishUserEvent records a user lifecycle change. Valid event types:
// created, updated, deleted, login, logout.
func (c *Client) PublishUserEvent(ctx context.Context, eventType EventType, userID, tenantID string, metadata map[string]any) bool {
	event := NewEvent(eventType, EntityUser, userID)
	event.UserID = userID
	event.TenantID = tenantID
	event.Metadata = metadata
	return c.PublishEvent(ctx, event)
}

// PublishTenantEvent records a tenant lifecycle change (created, updated,
// deleted).
func (c *Client) PublishTenantEvent(ctx context.Context, eventType EventType, tenantID, userID string, metadata map[string]any) bool {
	event := NewEvent(eventType, EntityTenant, tenantID)
	event.UserID = userID
	event.TenantID = tenantID
	event.Metadata = metadata
	return c.PublishEvent(ctx, event)
}

// PublishProjectEvent records a project lifecycle change (created, updated,
// deleted).
func (c *Client) PublishProjectEvent(ctx context.Context, eventType EventType, projectID, tenantID, userID string, metadata map[string]any) bool {
	event := NewEvent(eventType, EntityProject, projectID)
	event.UserID = userID
	event.TenantID = tenantID
	event.Metadata = metadata
	return c.PublishEvent(ctx, event)
}

// PublishAssignmentEvent records an assignment lifecycle change (created,
// updated, deleted).
func (c *Client) PublishAssignmentEvent(ctx context.Context, eventType EventType, assignmentID, tenantID, userID string, metadata map[string]any) bool {
	event := NewEvent(eventType, EntityAssignment, assignmentID)
	event.UserID = userID
	event.TenantID = tenantID
	event.Metadata = metadata
	return c.PublishEvent(ctx, event)
}

// PublishAuditEvent records an audit trail entry (action_performed).
func (c *Client) PublishAuditEvent(ctx context.Context, auditID, tenantID, userID string, metadata map[string]any) bool {
	event := NewEvent(EventActionPerformed, EntityAudit, auditID)
	event.UserID = userID
	event.TenantID = tenantID
	event.Metadata = metadata
	return c.PublishEvent(ctx, event)
}

// HealthCheck publishes a synthetic probe through the normal send path.
// True means the broker accepted a produce end to end.
func (c *Client) HealthCheck(ctx context.Context) bool {
	probe := map[string]string{
		"probeId":   uuid.NewString(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	value, err := json.Marshal(probe)
	if err != nil {
		return false
	}
	if err := c.Send(ctx, HealthTopic(c.cfg.Namespace), "health", value, nil, time.Time{}); err != nil {
		c.logger.Error("kafka health check failed", "error", err)
		return false
	}
	return true
}

// ensureTopics creates any missing topics from the derived set so a broad
// subscription is well-defined on a fresh cluster.
func ensureTopics(ctx context.Context, admin *kadm.Client, topics []string) error {
	resp, err := admin.CreateTopics(ctx, 1, 1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Disconnect closes the producer and every registered consumer group, then
// clears the registry. Each disconnect attempt is independent; one failure
// does not block the others. Safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	producer := c.producer
	consumers := c.consumers
	c.producer = nil
	c.admin = nil
	c.consumers = make(map[string]*ConsumerGroup)
	c.mu.Unlock()

	for groupID, group := range consumers {
		group.close()
		c.logger.Info("kafka consumer disconnected", "group", groupID)
	}

	if producer != nil {
		producer.Close()
		c.logger.Info("kafka producer disconnected")
	}
}
