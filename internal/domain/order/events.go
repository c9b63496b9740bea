package order

import (
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// AggregateType is the logical kind recorded on every order event.
const AggregateType = "Order"

// Event types
const (
	EventTypeOrderCreated   = "order.created"
	EventTypeOrderRenamed   = "order.renamed"
	EventTypeOrderConfirmed = "order.confirmed"
	EventTypeOrderPaid      = "order.paid"
	EventTypeOrderCancelled = "order.cancelled"
)

// Created records that an order came into existence.
type Created struct {
	event.BaseEvent

	CustomerID  uuid.UUID `json:"customer_id"  bson:"customer_id"`
	Reference   string    `json:"reference"    bson:"reference"`
	AmountCents int64     `json:"amount_cents" bson:"amount_cents"`
	Currency    string    `json:"currency"     bson:"currency"`
}

// NewCreated creates an order.created event.
func NewCreated(
	orderID uuid.UUID,
	version int,
	customerID uuid.UUID,
	reference string,
	amountCents int64,
	currency string,
	metadata event.Metadata,
) *Created {
	return &Created{
		BaseEvent:   event.NewBaseEvent(EventTypeOrderCreated, orderID.String(), AggregateType, version, metadata),
		CustomerID:  customerID,
		Reference:   reference,
		AmountCents: amountCents,
		Currency:    currency,
	}
}

// Renamed records a reference change.
type Renamed struct {
	event.BaseEvent

	OldReference string `json:"old_reference" bson:"old_reference"`
	NewReference string `json:"new_reference" bson:"new_reference"`
}

// NewRenamed creates an order.renamed event.
func NewRenamed(orderID uuid.UUID, version int, oldRef, newRef string, metadata event.Metadata) *Renamed {
	return &Renamed{
		BaseEvent:    event.NewBaseEvent(EventTypeOrderRenamed, orderID.String(), AggregateType, version, metadata),
		OldReference: oldRef,
		NewReference: newRef,
	}
}

// Confirmed records that the order was confirmed for fulfilment.
type Confirmed struct {
	event.BaseEvent

	ConfirmedBy uuid.UUID `json:"confirmed_by" bson:"confirmed_by"`
}

// NewConfirmed creates an order.confirmed event.
func NewConfirmed(orderID uuid.UUID, version int, confirmedBy uuid.UUID, metadata event.Metadata) *Confirmed {
	return &Confirmed{
		BaseEvent:   event.NewBaseEvent(EventTypeOrderConfirmed, orderID.String(), AggregateType, version, metadata),
		ConfirmedBy: confirmedBy,
	}
}

// Paid records a successful payment against the order.
type Paid struct {
	event.BaseEvent

	PaymentID uuid.UUID `json:"payment_id" bson:"payment_id"`
}

// NewPaid creates an order.paid event.
func NewPaid(orderID uuid.UUID, version int, paymentID uuid.UUID, metadata event.Metadata) *Paid {
	return &Paid{
		BaseEvent: event.NewBaseEvent(EventTypeOrderPaid, orderID.String(), AggregateType, version, metadata),
		PaymentID: paymentID,
	}
}

// Cancelled records cancellation, including compensating cancellations
// driven by a failed payment. Cancellation is an event, never a delete:
// the stream stays intact.
type Cancelled struct {
	event.BaseEvent

	Reason string `json:"reason" bson:"reason"`
}

// NewCancelled creates an order.cancelled event.
func NewCancelled(orderID uuid.UUID, version int, reason string, metadata event.Metadata) *Cancelled {
	return &Cancelled{
		BaseEvent: event.NewBaseEvent(EventTypeOrderCancelled, orderID.String(), AggregateType, version, metadata),
		Reason:    reason,
	}
}
