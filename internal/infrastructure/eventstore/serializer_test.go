package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/order"
	"github.com/eventfold/eventfold/internal/domain/payment"
	"github.com/eventfold/eventfold/internal/domain/uuid"
	"github.com/eventfold/eventfold/internal/infrastructure/eventstore"
)

func TestSerializer_RoundTrip(t *testing.T) {
	s := eventstore.NewEventSerializer(nil)
	orderID := uuid.New()
	customerID := uuid.New()
	md := event.NewMetadata("actor-1", "corr-1", "cause-1")
	created := order.NewCreated(orderID, 1, customerID, "ORD-7", 12500, "EUR", md)

	doc, err := s.Serialize(created)
	require.NoError(t, err)

	assert.Equal(t, created.EventID().String(), doc.EventID)
	assert.Equal(t, orderID.String(), doc.AggregateID)
	assert.Equal(t, order.AggregateType, doc.AggregateType)
	assert.Equal(t, order.EventTypeOrderCreated, doc.EventType)
	assert.Equal(t, 1, doc.Version)
	assert.False(t, doc.CreatedAt.IsZero(), "commit timestamp is store-assigned")

	restored, err := s.Deserialize(doc)
	require.NoError(t, err)

	got, ok := restored.(*order.Created)
	require.True(t, ok)
	assert.Equal(t, created.EventID(), got.EventID())
	assert.Equal(t, created.Version(), got.Version())
	assert.Equal(t, customerID, got.CustomerID)
	assert.Equal(t, "ORD-7", got.Reference)
	assert.Equal(t, int64(12500), got.AmountCents)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, "corr-1", got.Metadata().CorrelationID)
}

func TestSerializer_PaymentEvents(t *testing.T) {
	s := eventstore.NewEventSerializer(nil)
	paymentID := uuid.New()
	orderID := uuid.New()
	failed := payment.NewFailed(paymentID, 2, orderID, "card declined", event.Metadata{})

	doc, err := s.Serialize(failed)
	require.NoError(t, err)

	restored, err := s.Deserialize(doc)
	require.NoError(t, err)

	got, ok := restored.(*payment.Failed)
	require.True(t, ok)
	assert.Equal(t, orderID, got.OrderID)
	assert.Equal(t, "card declined", got.Reason)
}

func TestSerializer_UnknownTypeBecomesRaw(t *testing.T) {
	s := eventstore.NewEventSerializer(eventstore.NewRegistry())
	created := order.NewCreated(uuid.New(), 1, uuid.New(), "ORD-1", 100, "EUR", event.Metadata{})

	doc, err := s.Serialize(created)
	require.NoError(t, err)

	restored, err := s.Deserialize(doc)
	require.NoError(t, err)

	require.True(t, event.IsRaw(restored), "unregistered type must decode to Raw, not fail")
	raw := restored.(*event.Raw)
	assert.Equal(t, order.EventTypeOrderCreated, raw.EventType())
	assert.Equal(t, 1, raw.Version())
	assert.Equal(t, "ORD-1", raw.Payload["reference"])
}

func TestSerializer_CustomRegistry(t *testing.T) {
	r := eventstore.NewRegistry()
	r.Register(order.EventTypeOrderRenamed, func() event.DomainEvent { return &order.Renamed{} })
	s := eventstore.NewEventSerializer(r)

	renamed := order.NewRenamed(uuid.New(), 3, "a", "b", event.Metadata{})
	doc, err := s.Serialize(renamed)
	require.NoError(t, err)

	restored, err := s.Deserialize(doc)
	require.NoError(t, err)

	got, ok := restored.(*order.Renamed)
	require.True(t, ok)
	assert.Equal(t, "b", got.NewReference)
}

func TestSerializer_SerializeMany(t *testing.T) {
	s := eventstore.NewEventSerializer(nil)
	id := uuid.New()
	events := []event.DomainEvent{
		order.NewCreated(id, 1, uuid.New(), "ORD-1", 100, "EUR", event.Metadata{}),
		order.NewRenamed(id, 2, "ORD-1", "ORD-2", event.Metadata{}),
	}

	docs, err := s.SerializeMany(events)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	restored, err := s.DeserializeMany(docs)
	require.NoError(t, err)
	require.Len(t, restored, 2)
	assert.Equal(t, 1, restored[0].Version())
	assert.Equal(t, 2, restored[1].Version())
}
