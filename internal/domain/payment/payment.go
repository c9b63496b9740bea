// Package payment is the payment aggregate driven by the order saga.
package payment

import (
	"fmt"

	"github.com/eventfold/eventfold/internal/domain/aggregate"
	"github.com/eventfold/eventfold/internal/domain/errs"
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// Status is the payment lifecycle state.
type Status string

// Payment statuses.
const (
	StatusRequested Status = "requested"
	StatusCaptured  Status = "captured"
	StatusFailed    Status = "failed"
)

// Aggregate is the payment aggregate root.
type Aggregate struct {
	aggregate.Base

	orderID     uuid.UUID
	amountCents int64
	currency    string
	status      Status
	providerRef string
	failReason  string
}

// New creates an empty payment aggregate.
func New(id uuid.UUID) *Aggregate {
	a := &Aggregate{}
	a.Init(id, AggregateType, a.applyChange)
	return a
}

// Request records the initial payment request for an order.
func (a *Aggregate) Request(orderID uuid.UUID, amountCents int64, currency string, metadata event.Metadata) error {
	if a.Version() > 0 {
		return errs.ErrAlreadyExists
	}
	if orderID.IsZero() || amountCents <= 0 || currency == "" {
		return errs.ErrInvalidInput
	}

	return a.Record(NewRequested(a.ID(), a.NextVersion(), orderID, amountCents, currency, metadata))
}

// Capture records a successful charge.
func (a *Aggregate) Capture(providerRef string, metadata event.Metadata) error {
	if a.Version() == 0 {
		return errs.ErrNotFound
	}
	if a.status != StatusRequested {
		return errs.ErrInvalidTransition
	}

	return a.Record(NewCaptured(a.ID(), a.NextVersion(), providerRef, metadata))
}

// Fail records a declined charge. The order saga compensates on it.
func (a *Aggregate) Fail(reason string, metadata event.Metadata) error {
	if a.Version() == 0 {
		return errs.ErrNotFound
	}
	if a.status != StatusRequested {
		return errs.ErrInvalidTransition
	}

	return a.Record(NewFailed(a.ID(), a.NextVersion(), a.orderID, reason, metadata))
}

// OrderID returns the order this payment belongs to.
func (a *Aggregate) OrderID() uuid.UUID { return a.orderID }

// AmountCents returns the charge amount in minor units.
func (a *Aggregate) AmountCents() int64 { return a.amountCents }

// Currency returns the charge currency code.
func (a *Aggregate) Currency() string { return a.currency }

// Status returns the lifecycle state.
func (a *Aggregate) Status() Status { return a.status }

// ProviderRef returns the provider reference of a captured charge.
func (a *Aggregate) ProviderRef() string { return a.providerRef }

// FailReason returns why the charge failed, if it did.
func (a *Aggregate) FailReason() string { return a.failReason }

func (a *Aggregate) applyChange(evt event.DomainEvent) error {
	switch e := evt.(type) {
	case *Requested:
		a.orderID = e.OrderID
		a.amountCents = e.AmountCents
		a.currency = e.Currency
		a.status = StatusRequested

	case *Captured:
		a.status = StatusCaptured
		a.providerRef = e.ProviderRef

	case *Failed:
		a.status = StatusFailed
		a.failReason = e.Reason

	default:
		return fmt.Errorf("%w: %s", aggregate.ErrUnknownEventType, evt.EventType())
	}

	return nil
}
