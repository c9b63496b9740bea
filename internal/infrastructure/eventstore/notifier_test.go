package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/infrastructure/eventstore"
)

func testEvent(version int) event.DomainEvent {
	base := event.NewBaseEvent("test.event", "agg-1", "Test", version, event.Metadata{})
	return event.NewRaw(base, nil)
}

func TestNotifier_Subscribe(t *testing.T) {
	n := eventstore.NewNotifier()

	var got []event.DomainEvent
	unsubscribe := n.Subscribe(func(evt event.DomainEvent) {
		got = append(got, evt)
	})

	n.Publish(testEvent(1))
	n.Publish(testEvent(2))

	assert.Len(t, got, 2)
	assert.Equal(t, 1, n.Len())

	unsubscribe()
	n.Publish(testEvent(3))

	assert.Len(t, got, 2, "no delivery after unsubscribe")
	assert.Equal(t, 0, n.Len())
}

func TestNotifier_UnsubscribeTwice(t *testing.T) {
	n := eventstore.NewNotifier()
	unsubscribe := n.Subscribe(func(event.DomainEvent) {})

	unsubscribe()
	unsubscribe()

	assert.Equal(t, 0, n.Len())
}

func TestNotifier_MultipleSubscribers(t *testing.T) {
	n := eventstore.NewNotifier()

	first, second := 0, 0
	n.Subscribe(func(event.DomainEvent) { first++ })
	n.Subscribe(func(event.DomainEvent) { second++ })

	n.Publish(testEvent(1))

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestNotifier_SubscriberRemovalDoesNotAffectOthers(t *testing.T) {
	n := eventstore.NewNotifier()

	kept := 0
	n.Subscribe(func(event.DomainEvent) { kept++ })
	unsubscribe := n.Subscribe(func(event.DomainEvent) {})
	unsubscribe()

	n.Publish(testEvent(1))

	assert.Equal(t, 1, kept)
}
