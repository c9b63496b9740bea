// Package aggregate provides the base every event-sourced aggregate
// embeds: uncommitted-event tracking, version bookkeeping and replay.
// All state mutation flows through a single apply function so that live
// mutation and historical replay produce identical results.
package aggregate

import (
	"errors"
	"fmt"

	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

var (
	// ErrUnknownEventType is returned by an apply function when it sees
	// an event type it does not handle, typically one written by a
	// newer build. Recoverable: callers may skip or surface it.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrSequenceGap is returned when a recorded or replayed event does
	// not carry version current+1. The stream cannot be trusted.
	ErrSequenceGap = errors.New("event version out of sequence")
)

// Aggregate is the capability every event-sourced aggregate exposes to
// the repository layer.
type Aggregate interface {
	ID() uuid.UUID
	AggregateType() string
	Version() int
	UncommittedEvents() []event.DomainEvent
	MarkEventsAsCommitted()
	Replay(events []event.DomainEvent) error
}

// Snapshotter is implemented by aggregates that support snapshot
// acceleration. SnapshotState must be a pure serialization of current
// state; RestoreSnapshot must leave the aggregate exactly as if the
// first `version` events had been replayed.
type Snapshotter interface {
	SnapshotState() ([]byte, error)
	RestoreSnapshot(version int, data []byte) error
}

// Applier folds one event into aggregate state. It must be
// deterministic and side-effect free: no I/O, no clock reads. It runs
// identically during live mutation and replay.
type Applier func(evt event.DomainEvent) error

// Base carries the event-sourcing bookkeeping. Concrete aggregates
// embed it and wire their apply function via Init.
type Base struct {
	id            uuid.UUID
	aggregateType string
	version       int
	uncommitted   []event.DomainEvent
	apply         Applier
}

// Init wires the base. Called once from the concrete constructor; the
// applier is the aggregate's own applyChange method.
func (b *Base) Init(id uuid.UUID, aggregateType string, apply Applier) {
	b.id = id
	b.aggregateType = aggregateType
	b.apply = apply
}

// ID returns the aggregate identity.
func (b *Base) ID() uuid.UUID {
	return b.id
}

// AggregateType returns the logical aggregate kind.
func (b *Base) AggregateType() string {
	return b.aggregateType
}

// Version returns the version after the last applied event.
func (b *Base) Version() int {
	return b.version
}

// NextVersion returns the version the next recorded event must carry.
func (b *Base) NextVersion() int {
	return b.version + 1
}

// UncommittedEvents returns the buffered, not-yet-persisted events in
// append order.
func (b *Base) UncommittedEvents() []event.DomainEvent {
	return b.uncommitted
}

// MarkEventsAsCommitted clears the buffer. Called by the repository
// after a confirmed save, never by business code.
func (b *Base) MarkEventsAsCommitted() {
	b.uncommitted = nil
}

// Record applies a new event and buffers it for persistence. Business
// methods construct the event with NextVersion and call Record; they
// never mutate state directly.
func (b *Base) Record(evt event.DomainEvent) error {
	if err := b.applyOne(evt); err != nil {
		return err
	}
	b.uncommitted = append(b.uncommitted, evt)
	return nil
}

// Replay folds historical events into state without buffering them.
// A version gap or duplicate means the stream is corrupt.
func (b *Base) Replay(events []event.DomainEvent) error {
	for _, evt := range events {
		if err := b.applyOne(evt); err != nil {
			return err
		}
	}
	return nil
}

// Restore resets the version after loading a snapshot. The concrete
// aggregate restores its own state fields alongside.
func (b *Base) Restore(version int) {
	b.version = version
}

func (b *Base) applyOne(evt event.DomainEvent) error {
	if evt.Version() != b.version+1 {
		return fmt.Errorf("%w: aggregate %s at version %d got event version %d",
			ErrSequenceGap, b.id, b.version, evt.Version())
	}
	if err := b.apply(evt); err != nil {
		return fmt.Errorf("apply %s at version %d: %w", evt.EventType(), evt.Version(), err)
	}
	b.version++
	return nil
}
