package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eventfold/eventfold/internal/application/appcore"
	"github.com/eventfold/eventfold/internal/domain/event"
)

// committedEvent pairs an event with its store-assigned commit time.
type committedEvent struct {
	evt         event.DomainEvent
	committedAt time.Time
}

// InMemoryEventStore implements appcore.EventStore in memory. It backs
// unit tests and the mock wiring mode; the contract matches the
// MongoDB adapter, including conflict and notification behavior.
type InMemoryEventStore struct {
	mu        sync.RWMutex
	events    map[string][]committedEvent
	snapshots map[string][]appcore.Snapshot
	notifier  *Notifier
}

// NewInMemoryEventStore creates an empty in-memory store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events:    make(map[string][]committedEvent),
		snapshots: make(map[string][]appcore.Snapshot),
		notifier:  NewNotifier(),
	}
}

// SaveEvent appends one event, conditional on its version slot being
// free.
func (s *InMemoryEventStore) SaveEvent(ctx context.Context, evt event.DomainEvent) error {
	return s.SaveEvents(ctx, evt.AggregateID(), []event.DomainEvent{evt}, evt.Version()-1)
}

// SaveEvents appends a contiguous run for one aggregate. The version
// check and append happen under one lock, which is the in-memory
// equivalent of the conditional write; notifications go out after the
// lock is released.
func (s *InMemoryEventStore) SaveEvents(
	_ context.Context,
	aggregateID string,
	events []event.DomainEvent,
	expectedVersion int,
) error {
	if len(events) == 0 {
		return nil
	}
	if expectedVersion < 0 {
		return appcore.ErrInvalidVersion
	}
	for i, evt := range events {
		if evt.Version() != expectedVersion+i+1 {
			return fmt.Errorf("%w: event %d has version %d, want %d",
				appcore.ErrInvalidEventSequence, i, evt.Version(), expectedVersion+i+1)
		}
	}

	s.mu.Lock()
	current := len(s.events[aggregateID])
	if current != expectedVersion {
		s.mu.Unlock()
		return fmt.Errorf("%w: aggregate %s at version %d, expected %d",
			appcore.ErrConcurrencyConflict, aggregateID, current, expectedVersion)
	}
	now := time.Now().UTC()
	for _, evt := range events {
		s.events[aggregateID] = append(s.events[aggregateID], committedEvent{evt: evt, committedAt: now})
	}
	s.mu.Unlock()

	for _, evt := range events {
		s.notifier.Publish(evt)
	}

	return nil
}

// GetEvents returns events with version greater than fromVersion.
func (s *InMemoryEventStore) GetEvents(
	_ context.Context,
	aggregateID string,
	fromVersion int,
) ([]event.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.events[aggregateID]
	if !ok && fromVersion == 0 {
		return nil, appcore.ErrAggregateNotFound
	}

	result := make([]event.DomainEvent, 0, len(stored))
	for _, ce := range stored {
		if ce.evt.Version() > fromVersion {
			result = append(result, ce.evt)
		}
	}
	return result, nil
}

// CurrentVersion returns the last committed version, 0 when the
// aggregate has no events.
func (s *InMemoryEventStore) CurrentVersion(_ context.Context, aggregateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[aggregateID]), nil
}

// GetEventsByType returns up to limit events of one type ordered by
// commit time.
func (s *InMemoryEventStore) GetEventsByType(
	_ context.Context,
	eventType string,
	limit int,
) ([]event.DomainEvent, error) {
	s.mu.RLock()
	matching := make([]committedEvent, 0)
	for _, stream := range s.events {
		for _, ce := range stream {
			if ce.evt.EventType() == eventType {
				matching = append(matching, ce)
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].committedAt.Before(matching[j].committedAt)
	})
	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}

	result := make([]event.DomainEvent, 0, len(matching))
	for _, ce := range matching {
		result = append(result, ce.evt)
	}
	return result, nil
}

// GetEventsByDateRange returns events committed in [start, end) ordered
// by commit time.
func (s *InMemoryEventStore) GetEventsByDateRange(
	_ context.Context,
	start, end time.Time,
) ([]event.DomainEvent, error) {
	s.mu.RLock()
	matching := make([]committedEvent, 0)
	for _, stream := range s.events {
		for _, ce := range stream {
			if !ce.committedAt.Before(start) && ce.committedAt.Before(end) {
				matching = append(matching, ce)
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].committedAt.Before(matching[j].committedAt)
	})

	result := make([]event.DomainEvent, 0, len(matching))
	for _, ce := range matching {
		result = append(result, ce.evt)
	}
	return result, nil
}

// SaveSnapshot stores a snapshot; a duplicate version overwrites.
func (s *InMemoryEventStore) SaveSnapshot(_ context.Context, aggregateID string, version int, data []byte) error {
	snap := appcore.Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		Data:        append([]byte(nil), data...),
		Timestamp:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.snapshots[aggregateID]
	for i, sn := range existing {
		if sn.Version == version {
			existing[i] = snap
			return nil
		}
	}
	s.snapshots[aggregateID] = append(existing, snap)
	return nil
}

// GetSnapshot returns the snapshot with the highest version.
func (s *InMemoryEventStore) GetSnapshot(_ context.Context, aggregateID string) (*appcore.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[aggregateID]
	if len(snaps) == 0 {
		return nil, appcore.ErrAggregateNotFound
	}

	latest := snaps[0]
	for _, sn := range snaps[1:] {
		if sn.Version > latest.Version {
			latest = sn
		}
	}
	return &latest, nil
}

// SnapshotCount reports how many snapshots exist for an aggregate.
// Test-only helper.
func (s *InMemoryEventStore) SnapshotCount(aggregateID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots[aggregateID])
}

// Subscribe registers a commit notification subscriber.
func (s *InMemoryEventStore) Subscribe(fn appcore.Subscriber) func() {
	return s.notifier.Subscribe(fn)
}

var _ appcore.EventStore = (*InMemoryEventStore)(nil)
