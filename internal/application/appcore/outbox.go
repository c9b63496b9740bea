package appcore

import (
	"context"
	"time"

	"github.com/eventfold/eventfold/internal/domain/event"
)

// OutboxEntry is an event waiting to be published to the event bus.
// It carries everything needed to rebuild the typed event, so a replay
// from the outbox is indistinguishable from the original publication.
type OutboxEntry struct {
	ID            string
	EventID       string
	EventType     string
	AggregateID   string
	AggregateType string
	Version       int
	OccurredAt    time.Time
	Metadata      event.Metadata
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     string
}

// Outbox queues committed events for asynchronous publication. It is
// the durable leg of at-least-once delivery: the in-process notifier
// is fast but lost on crash, the outbox is not.
type Outbox interface {
	// Add inserts one event into the outbox.
	Add(ctx context.Context, evt event.DomainEvent) error

	// AddBatch inserts several events at once.
	AddBatch(ctx context.Context, events []event.DomainEvent) error

	// Poll returns up to batchSize unprocessed entries, oldest first.
	Poll(ctx context.Context, batchSize int) ([]OutboxEntry, error)

	// MarkProcessed marks an entry as successfully published.
	MarkProcessed(ctx context.Context, entryID string) error

	// MarkFailed records a publish failure for later retry.
	MarkFailed(ctx context.Context, entryID string, err error) error

	// Cleanup removes processed entries older than the given age and
	// returns how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	// Count returns the number of unprocessed entries.
	Count(ctx context.Context) (int64, error)
}
