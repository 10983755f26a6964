package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType classifies the state change an event records.
type EventType string

const (
	EventCreated         EventType = "created"
	EventUpdated         EventType = "updated"
	EventDeleted         EventType = "deleted"
	EventLogin           EventType = "login"
	EventLogout          EventType = "logout"
	EventActionPerformed EventType = "action_performed"
)

// EntityType identifies the domain entity an event is about.
type EntityType string

const (
	EntityUser       EntityType = "user"
	EntityTenant     EntityType = "tenant"
	EntityProject    EntityType = "project"
	EntityAssignment EntityType = "assignment"
	EntityAudit      EntityType = "audit"
)

// EntityTypes returns every entity type known to the topic space. Consumer
// subscriptions fan out across all of them (broad subscribe, narrow filter).
func EntityTypes() []EntityType {
	return []EntityType{EntityUser, EntityTenant, EntityProject, EntityAssignment, EntityAudit}
}

// Event is the unit of cross-service communication. Field names are the
// wire format; both the broker payload and cached copies use this encoding.
type Event struct {
	EventType  EventType      `json:"eventType"`
	EntityType EntityType     `json:"entityType"`
	EntityID   string         `json:"entityId"`
	UserID     string         `json:"userId,omitempty"`
	TenantID   string         `json:"tenantId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// NewEvent stamps a new event with the publish-time timestamp (RFC 3339 UTC).
func NewEvent(eventType EventType, entityType EntityType, entityID string) Event {
	return Event{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Validate enforces the publication invariant: routing identity and
// timestamp must be present. Metadata is always optional.
func (e Event) Validate() error {
	switch {
	case e.EventType == "":
		return errors.New("event missing eventType")
	case e.EntityType == "":
		return errors.New("event missing entityType")
	case e.EntityID == "":
		return errors.New("event missing entityId")
	case e.Timestamp == "":
		return errors.New("event missing timestamp")
	}
	return nil
}

// Topic derives the broker routing key for this event within a namespace.
func (e Event) Topic(namespace string) string {
	return DeriveTopic(namespace, e.EntityType, e.EventType)
}

// Marshal encodes the event for the wire.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a broker payload back into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// DeriveTopic is a pure function of (entityType, eventType). Two events
// with the same pair always land on the same topic; no other field affects
// routing.
func DeriveTopic(namespace string, entityType EntityType, eventType EventType) string {
	return fmt.Sprintf("%s.%s.%s", namespace, entityType, eventType)
}

// TopicsForEventKinds expands event kinds into the concrete topic set: the
// product of kinds and every known entity type. Topics without producers
// simply deliver nothing; the broad subscription keeps routing declarative.
func TopicsForEventKinds(namespace string, kinds []EventType) []string {
	entities := EntityTypes()
	topics := make([]string, 0, len(kinds)*len(entities))
	for _, kind := range kinds {
		for _, entity := range entities {
			topics = append(topics, DeriveTopic(namespace, entity, kind))
		}
	}
	return topics
}

// HealthTopic is where synthetic health-probe messages are published.
func HealthTopic(namespace string) string {
	return namespace + ".health.check"
}
