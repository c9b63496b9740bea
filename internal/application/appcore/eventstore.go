package appcore

import (
	"context"
	"time"

	"github.com/eventfold/eventfold/internal/domain/event"
)

// Snapshot is a materialized aggregate state at a known version. It
// never replaces the event log; it only bounds replay cost.
type Snapshot struct {
	AggregateID string
	Version     int
	Data        []byte
	Timestamp   time.Time
}

// Subscriber receives every committed event. Delivery is at-least-once
// and ordered only within one aggregate's stream. Subscribers must not
// block; slow consumers belong behind the outbox/bus.
type Subscriber func(evt event.DomainEvent)

// EventStore is the port to the durable append-only log. Implemented
// by the MongoDB adapter and the in-memory store.
type EventStore interface {
	// SaveEvent conditionally appends a single event keyed by
	// (aggregate id, version). A loser of a concurrent race gets
	// ErrConcurrencyConflict; the store never retries silently.
	SaveEvent(ctx context.Context, evt event.DomainEvent) error

	// SaveEvents appends a contiguous run of events for one aggregate.
	// expectedVersion is the caller's last known version (0 for a new
	// aggregate). A mid-sequence conflict leaves the already written
	// prefix intact; the caller must reload before retrying.
	SaveEvents(ctx context.Context, aggregateID string, events []event.DomainEvent, expectedVersion int) error

	// GetEvents returns events for an aggregate with version greater
	// than fromVersion, ascending. fromVersion 0 loads full history.
	GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]event.DomainEvent, error)

	// CurrentVersion returns the last committed version for an
	// aggregate, 0 when it has no events. Losers of a save race use it
	// to restart from the version actually persisted.
	CurrentVersion(ctx context.Context, aggregateID string) (int, error)

	// GetEventsByType returns up to limit events of one type, ordered
	// by commit time (best effort, not globally consistent).
	GetEventsByType(ctx context.Context, eventType string, limit int) ([]event.DomainEvent, error)

	// GetEventsByDateRange returns events committed in [start, end),
	// ordered by commit time (best effort).
	GetEventsByDateRange(ctx context.Context, start, end time.Time) ([]event.DomainEvent, error)

	// SaveSnapshot stores a snapshot. Overwriting the same version is
	// safe; snapshots are write-once per version in practice.
	SaveSnapshot(ctx context.Context, aggregateID string, version int, data []byte) error

	// GetSnapshot returns the latest snapshot for an aggregate, or
	// ErrAggregateNotFound when none exists.
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	// Subscribe registers fn for commit notifications and returns an
	// unsubscribe func. Subscriptions are per store instance, never
	// global.
	Subscribe(fn Subscriber) (unsubscribe func())
}
