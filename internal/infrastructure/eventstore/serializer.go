package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/order"
	"github.com/eventfold/eventfold/internal/domain/payment"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// EventDocument is the stored form of one event. CreatedAt is the
// commit timestamp and is assigned by the store, never by the caller.
type EventDocument struct {
	EventID       string         `bson:"event_id"`
	AggregateID   string         `bson:"aggregate_id"`
	AggregateType string         `bson:"aggregate_type"`
	EventType     string         `bson:"event_type"`
	Version       int            `bson:"version"`
	Data          bson.M         `bson:"data"`
	Metadata      event.Metadata `bson:"metadata"`
	OccurredAt    time.Time      `bson:"occurred_at"`
	CreatedAt     time.Time      `bson:"created_at"`
}

// SnapshotDocument is the stored form of one snapshot.
type SnapshotDocument struct {
	AggregateID string    `bson:"aggregate_id"`
	Version     int       `bson:"version"`
	Data        []byte    `bson:"data"`
	CreatedAt   time.Time `bson:"created_at"`
}

// Registry maps event types to factories for their concrete Go types.
// Each serializer owns its registry; nothing is registered globally.
type Registry struct {
	factories map[string]func() event.DomainEvent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() event.DomainEvent)}
}

// Register associates an event type with a factory producing the empty
// concrete event to decode into.
func (r *Registry) Register(eventType string, factory func() event.DomainEvent) {
	r.factories[eventType] = factory
}

// Factory returns the factory for an event type, if one is registered.
func (r *Registry) Factory(eventType string) (func() event.DomainEvent, bool) {
	factory, ok := r.factories[eventType]
	return factory, ok
}

// DecodeJSON restores a concrete event from its JSON payload and the
// restored base. Unknown event types come back as *event.Raw, the same
// fallback replay uses. The event bus and the outbox worker decode
// through this so every delivery path yields identical typed events.
func (r *Registry) DecodeJSON(base event.BaseEvent, payload []byte) (event.DomainEvent, error) {
	factory, ok := r.factories[base.EventType()]
	if !ok {
		var data map[string]any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &data); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", base.EventType(), err)
			}
		}
		return event.NewRaw(base, data), nil
	}

	evt := factory()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, evt); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", base.EventType(), err)
		}
	}

	setter, ok := evt.(interface{ SetBase(event.BaseEvent) })
	if !ok {
		return nil, fmt.Errorf("event type %s does not embed event.BaseEvent", base.EventType())
	}
	setter.SetBase(base)

	return evt, nil
}

// DefaultRegistry returns a registry covering the built-in aggregates.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(order.EventTypeOrderCreated, func() event.DomainEvent { return &order.Created{} })
	r.Register(order.EventTypeOrderRenamed, func() event.DomainEvent { return &order.Renamed{} })
	r.Register(order.EventTypeOrderConfirmed, func() event.DomainEvent { return &order.Confirmed{} })
	r.Register(order.EventTypeOrderPaid, func() event.DomainEvent { return &order.Paid{} })
	r.Register(order.EventTypeOrderCancelled, func() event.DomainEvent { return &order.Cancelled{} })
	r.Register(payment.EventTypePaymentRequested, func() event.DomainEvent { return &payment.Requested{} })
	r.Register(payment.EventTypePaymentCaptured, func() event.DomainEvent { return &payment.Captured{} })
	r.Register(payment.EventTypePaymentFailed, func() event.DomainEvent { return &payment.Failed{} })
	return r
}

// EventSerializer converts events to and from their stored documents.
type EventSerializer struct {
	registry *Registry
}

// NewEventSerializer creates a serializer over the given registry.
func NewEventSerializer(registry *Registry) *EventSerializer {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &EventSerializer{registry: registry}
}

// Serialize converts a domain event into a storable document and
// stamps the commit timestamp.
func (s *EventSerializer) Serialize(evt event.DomainEvent) (*EventDocument, error) {
	// The payload goes through JSON first: BaseEvent has no exported
	// fields, so only the concrete event's own fields end up in Data.
	jsonData, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	var data bson.M
	if err = json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}

	return &EventDocument{
		EventID:       evt.EventID().String(),
		AggregateID:   evt.AggregateID(),
		AggregateType: evt.AggregateType(),
		EventType:     evt.EventType(),
		Version:       evt.Version(),
		Data:          data,
		Metadata:      evt.Metadata(),
		OccurredAt:    evt.OccurredAt(),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// SerializeMany converts a batch in order.
func (s *EventSerializer) SerializeMany(events []event.DomainEvent) ([]*EventDocument, error) {
	docs := make([]*EventDocument, 0, len(events))
	for i, evt := range events {
		doc, err := s.Serialize(evt)
		if err != nil {
			return nil, fmt.Errorf("serialize event at index %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Deserialize restores a stored document into its concrete event type.
// Unknown event types come back as *event.Raw so replays survive events
// written by newer builds.
func (s *EventSerializer) Deserialize(doc *EventDocument) (event.DomainEvent, error) {
	eventID, err := uuid.Parse(doc.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", doc.EventID, err)
	}

	base := event.RestoreBaseEvent(
		eventID,
		doc.EventType,
		doc.AggregateID,
		doc.AggregateType,
		doc.Version,
		doc.OccurredAt,
		doc.Metadata,
	)

	factory, ok := s.registry.Factory(doc.EventType)
	if !ok {
		payload, convErr := documentData(doc)
		if convErr != nil {
			return nil, convErr
		}
		return event.NewRaw(base, payload), nil
	}

	evt := factory()

	raw, err := bson.Marshal(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal stored payload: %w", err)
	}
	if err = bson.Unmarshal(raw, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", doc.EventType, err)
	}

	setter, ok := evt.(interface{ SetBase(event.BaseEvent) })
	if !ok {
		return nil, fmt.Errorf("event type %s does not embed event.BaseEvent", doc.EventType)
	}
	setter.SetBase(base)

	return evt, nil
}

// DeserializeMany restores a batch in order.
func (s *EventSerializer) DeserializeMany(docs []*EventDocument) ([]event.DomainEvent, error) {
	events := make([]event.DomainEvent, 0, len(docs))
	for i, doc := range docs {
		evt, err := s.Deserialize(doc)
		if err != nil {
			return nil, fmt.Errorf("deserialize event at index %d: %w", i, err)
		}
		events = append(events, evt)
	}
	return events, nil
}

func documentData(doc *EventDocument) (map[string]any, error) {
	jsonData, err := bson.MarshalExtJSON(doc.Data, false, false)
	if err != nil {
		return nil, fmt.Errorf("convert stored payload: %w", err)
	}

	var payload map[string]any
	if err = json.Unmarshal(jsonData, &payload); err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	return payload, nil
}
