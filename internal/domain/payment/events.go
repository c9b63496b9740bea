package payment

import (
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// AggregateType is the logical kind recorded on every payment event.
const AggregateType = "Payment"

// Event types
const (
	EventTypePaymentRequested = "payment.requested"
	EventTypePaymentCaptured  = "payment.captured"
	EventTypePaymentFailed    = "payment.failed"
)

// Requested records that a payment was requested for an order.
type Requested struct {
	event.BaseEvent

	OrderID     uuid.UUID `json:"order_id"     bson:"order_id"`
	AmountCents int64     `json:"amount_cents" bson:"amount_cents"`
	Currency    string    `json:"currency"     bson:"currency"`
}

// NewRequested creates a payment.requested event.
func NewRequested(
	paymentID uuid.UUID,
	version int,
	orderID uuid.UUID,
	amountCents int64,
	currency string,
	metadata event.Metadata,
) *Requested {
	return &Requested{
		BaseEvent:   event.NewBaseEvent(EventTypePaymentRequested, paymentID.String(), AggregateType, version, metadata),
		OrderID:     orderID,
		AmountCents: amountCents,
		Currency:    currency,
	}
}

// Captured records that the provider accepted the charge.
type Captured struct {
	event.BaseEvent

	ProviderRef string `json:"provider_ref" bson:"provider_ref"`
}

// NewCaptured creates a payment.captured event.
func NewCaptured(paymentID uuid.UUID, version int, providerRef string, metadata event.Metadata) *Captured {
	return &Captured{
		BaseEvent:   event.NewBaseEvent(EventTypePaymentCaptured, paymentID.String(), AggregateType, version, metadata),
		ProviderRef: providerRef,
	}
}

// Failed records a declined or errored charge. Sagas branch on this
// event to compensate; it is never modelled as a handler error.
type Failed struct {
	event.BaseEvent

	OrderID uuid.UUID `json:"order_id" bson:"order_id"`
	Reason  string    `json:"reason"   bson:"reason"`
}

// NewFailed creates a payment.failed event.
func NewFailed(paymentID uuid.UUID, version int, orderID uuid.UUID, reason string, metadata event.Metadata) *Failed {
	return &Failed{
		BaseEvent: event.NewBaseEvent(EventTypePaymentFailed, paymentID.String(), AggregateType, version, metadata),
		OrderID:   orderID,
		Reason:    reason,
	}
}
