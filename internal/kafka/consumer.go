package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// GroupState tracks where a consumer group is in its lifecycle. Transitions
// never skip states: connecting, subscribed, receiving, disconnected.
type GroupState int32

const (
	StateConnecting GroupState = iota
	StateSubscribed
	StateReceiving
	StateDisconnected
)

func (s GroupState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const (
	pollRetryBase = 250 * time.Millisecond
	pollRetryMax  = 30 * time.Second

	// drainTimeout bounds how long Disconnect waits for an in-flight
	// handler before abandoning the loop goroutine.
	drainTimeout = 10 * time.Second
)

// ConsumerGroup is the registered handle for one named subscription. At
// most one exists per group id within a process.
type ConsumerGroup struct {
	ID string

	topics []string
	client *kgo.Client
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// Topics returns the concrete topic set this group is subscribed to.
func (g *ConsumerGroup) Topics() []string {
	out := make([]string, len(g.topics))
	copy(out, g.topics)
	return out
}

// State reports the group's current lifecycle state.
func (g *ConsumerGroup) State() GroupState {
	return GroupState(g.state.Load())
}

func (g *ConsumerGroup) setState(s GroupState) {
	g.state.Store(int32(s))
}

// close stops the receive loop and waits, bounded, for the in-flight
// handler to finish. The overall shutdown deadline is the caller's concern.
func (g *ConsumerGroup) close() {
	started := g.cancel != nil
	if started {
		g.cancel()
	}
	g.client.Close()
	if started {
		select {
		case <-g.done:
		case <-time.After(drainTimeout):
		}
	}
	g.setState(StateDisconnected)
}

// CreateConsumer returns the consumer group registered under groupID,
// connecting a new one for the given topics if none exists. Get-or-create
// is atomic: concurrent callers for the same group id receive one handle.
func (c *Client) CreateConsumer(ctx context.Context, groupID string, topics ...string) (*ConsumerGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createConsumerLocked(ctx, groupID, topics)
}

func (c *Client) createConsumerLocked(ctx context.Context, groupID string, topics []string) (*ConsumerGroup, error) {
	if group, ok := c.consumers[groupID]; ok {
		return group, nil
	}
	if c.producer == nil || c.admin == nil {
		return nil, ErrNotConnected
	}

	// Pre-create the derived topics; a broad subscription includes topics
	// nothing produces to yet.
	if err := ensureTopics(ctx, c.admin, topics); err != nil {
		c.logger.Warn("could not pre-create topics, relying on broker auto-creation",
			"group", groupID, "error", err)
	}

	group := &ConsumerGroup{
		ID:     groupID,
		topics: topics,
		done:   make(chan struct{}),
	}
	group.setState(StateConnecting)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ClientID(c.cfg.ClientID+"-"+groupID),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create consumer for group %s: %w", groupID, err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect consumer for group %s: %w", groupID, err)
	}

	group.client = client
	group.setState(StateSubscribed)
	c.consumers[groupID] = group
	c.logger.Info("kafka consumer created", "group", groupID, "topics", len(topics))
	return group, nil
}

// Consumer returns the registered group for groupID, if any.
func (c *Client) Consumer(groupID string) (*ConsumerGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	group, ok := c.consumers[groupID]
	return group, ok
}

// SubscribeToEvents binds a handler group to the topic set derived from the
// given event kinds (each kind across every entity type) and starts the
// long-lived receive loop. Re-subscribing an already registered group id is
// deduplicated, not re-created. The loop runs until Disconnect.
func (c *Client) SubscribeToEvents(ctx context.Context, groupID string, kinds []EventType, handler EventHandler) error {
	topics := TopicsForEventKinds(c.cfg.Namespace, kinds)

	c.mu.Lock()
	if existing, ok := c.consumers[groupID]; ok {
		c.mu.Unlock()
		c.logger.Warn("consumer group already subscribed, reusing",
			"group", groupID, "state", existing.State().String())
		return nil
	}
	group, err := c.createConsumerLocked(ctx, groupID, topics)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("subscribe group %s: %w", groupID, err)
	}

	// The loop outlives the registration call; it is cancelled only by
	// Disconnect, so detach it from the caller's cancellation.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group.cancel = cancel
	group.setState(StateReceiving)
	go c.runReceiveLoop(loopCtx, group, handler)

	c.logger.Info("subscribed to events", "group", groupID, "kinds", kinds)
	return nil
}

// runReceiveLoop polls until cancellation or client close. Poll errors are
// retried with capped backoff rather than killing the loop; a record whose
// handler fails is logged and skipped.
func (c *Client) runReceiveLoop(ctx context.Context, group *ConsumerGroup, handler EventHandler) {
	defer close(group.done)
	defer group.setState(StateDisconnected)

	backoff := pollRetryBase
	for {
		fetches := group.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fetchErr := range errs {
				c.logger.Error("kafka poll error",
					"group", group.ID,
					"topic", fetchErr.Topic,
					"error", fetchErr.Err,
				)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > pollRetryMax {
				backoff = pollRetryMax
			}
		} else {
			backoff = pollRetryBase
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			c.handleRecord(ctx, group, rec, handler)
		})
	}
}

func (c *Client) handleRecord(ctx context.Context, group *ConsumerGroup, rec *kgo.Record, handler EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			handlerFailures.WithLabelValues(group.ID).Inc()
			c.logger.Error("event handler panicked",
				"group", group.ID, "topic", rec.Topic, "panic", r)
		}
	}()

	event, err := DecodeEvent(rec.Value)
	if err != nil {
		handlerFailures.WithLabelValues(group.ID).Inc()
		c.logger.Error("skipping undecodable message",
			"group", group.ID, "topic", rec.Topic, "error", err)
		return
	}

	eventsConsumed.WithLabelValues(group.ID).Inc()
	if err := handler(ctx, event); err != nil {
		handlerFailures.WithLabelValues(group.ID).Inc()
		c.logger.Error("event handler failed",
			"group", group.ID,
			"topic", rec.Topic,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}
