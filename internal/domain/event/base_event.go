package event

import (
	"time"

	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// BaseEvent is the embeddable DomainEvent implementation. Concrete
// events embed it by value and add their own payload fields.
type BaseEvent struct {
	eventID       uuid.UUID
	eventType     string
	aggregateID   string
	aggregateType string
	version       int
	occurredAt    time.Time
	metadata      Metadata
}

// NewBaseEvent creates a BaseEvent with a freshly assigned event id.
func NewBaseEvent(eventType, aggregateID, aggregateType string, version int, metadata Metadata) BaseEvent {
	return BaseEvent{
		eventID:       uuid.New(),
		eventType:     eventType,
		aggregateID:   aggregateID,
		aggregateType: aggregateType,
		version:       version,
		occurredAt:    time.Now().UTC(),
		metadata:      metadata,
	}
}

// RestoreBaseEvent rebuilds a BaseEvent from persisted fields. Used by
// store deserialization; never assigns new ids or timestamps.
func RestoreBaseEvent(
	eventID uuid.UUID,
	eventType, aggregateID, aggregateType string,
	version int,
	occurredAt time.Time,
	metadata Metadata,
) BaseEvent {
	return BaseEvent{
		eventID:       eventID,
		eventType:     eventType,
		aggregateID:   aggregateID,
		aggregateType: aggregateType,
		version:       version,
		occurredAt:    occurredAt,
		metadata:      metadata,
	}
}

// EventID returns the unique event id.
func (e BaseEvent) EventID() uuid.UUID {
	return e.eventID
}

// EventType returns the event type discriminator.
func (e BaseEvent) EventType() string {
	return e.eventType
}

// AggregateID returns the owning aggregate id.
func (e BaseEvent) AggregateID() string {
	return e.aggregateID
}

// AggregateType returns the owning aggregate kind.
func (e BaseEvent) AggregateType() string {
	return e.aggregateType
}

// Version returns the aggregate version after this event.
func (e BaseEvent) Version() int {
	return e.version
}

// OccurredAt returns the domain-side creation time.
func (e BaseEvent) OccurredAt() time.Time {
	return e.occurredAt
}

// Metadata returns the event metadata.
func (e BaseEvent) Metadata() Metadata {
	return e.metadata
}

// SetBase replaces the embedded base. Only store deserialization uses
// it, to rehydrate events whose payload was decoded separately.
func (e *BaseEvent) SetBase(b BaseEvent) {
	*e = b
}
