package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/internal/domain/event"
)

// AssertEventPublished checks that an event of the given type is in the
// slice and returns it.
func AssertEventPublished(t *testing.T, events []event.DomainEvent, eventType string) event.DomainEvent {
	t.Helper()

	for _, evt := range events {
		if evt.EventType() == eventType {
			return evt
		}
	}

	t.Fatalf("Expected event of type %q, but it was not found. Got %d events", eventType, len(events))
	return nil
}

// AssertEventCount checks the number of events in the slice.
func AssertEventCount(t *testing.T, events []event.DomainEvent, expected int) {
	t.Helper()

	if len(events) != expected {
		t.Fatalf("Expected %d events, but got %d", expected, len(events))
	}
}

// AssertContiguousVersions checks that events form a gapless sequence
// starting at fromVersion+1.
func AssertContiguousVersions(t *testing.T, events []event.DomainEvent, fromVersion int) {
	t.Helper()

	for i, evt := range events {
		require.Equal(t, fromVersion+i+1, evt.Version(),
			"event %s at index %d breaks the version sequence", evt.EventType(), i)
	}
}
