// Package event defines the domain event model shared by every
// aggregate: the DomainEvent contract, the embeddable BaseEvent, event
// metadata and the Bus used to hand committed events to consumers.
package event

import (
	"context"
	"time"

	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// DomainEvent is one committed (or about-to-be-committed) fact about an
// aggregate. Implementations embed BaseEvent and add payload fields.
type DomainEvent interface {
	// EventID returns the globally unique id assigned at creation.
	EventID() uuid.UUID

	// EventType returns the string discriminator used for dispatch.
	EventType() string

	// AggregateID returns the id of the owning aggregate instance.
	AggregateID() string

	// AggregateType returns the logical aggregate kind, e.g. "Order".
	AggregateType() string

	// Version returns the aggregate version after applying this event.
	// Versions start at 1 and are contiguous per aggregate.
	Version() int

	// OccurredAt returns the domain-side creation time. The commit
	// timestamp is assigned by the event store, not the event.
	OccurredAt() time.Time

	// Metadata returns the causation/correlation metadata bag.
	Metadata() Metadata
}

// Bus publishes committed events to out-of-process consumers
// (projections, saga workers in other processes).
type Bus interface {
	Publish(ctx context.Context, evt DomainEvent) error
}
