// Package order is an event-sourced order aggregate. It exists to
// exercise the full pipeline: creation, mutation, optimistic saves,
// snapshot restore and the payment saga.
package order

import (
	"encoding/json"
	"fmt"

	"github.com/eventfold/eventfold/internal/domain/aggregate"
	"github.com/eventfold/eventfold/internal/domain/errs"
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// Status is the order lifecycle state.
type Status string

// Order statuses.
const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Aggregate is the order aggregate root.
type Aggregate struct {
	aggregate.Base

	customerID  uuid.UUID
	reference   string
	amountCents int64
	currency    string
	status      Status
}

// New creates an empty order aggregate ready for replay or Create.
func New(id uuid.UUID) *Aggregate {
	a := &Aggregate{}
	a.Init(id, AggregateType, a.applyChange)
	return a
}

// Create records the first event of a new order.
func (a *Aggregate) Create(
	customerID uuid.UUID,
	reference string,
	amountCents int64,
	currency string,
	metadata event.Metadata,
) error {
	if a.Version() > 0 {
		return errs.ErrAlreadyExists
	}
	if customerID.IsZero() || reference == "" || currency == "" {
		return errs.ErrInvalidInput
	}
	if amountCents <= 0 {
		return errs.ErrInvalidInput
	}

	return a.Record(NewCreated(a.ID(), a.NextVersion(), customerID, reference, amountCents, currency, metadata))
}

// Rename changes the order reference.
func (a *Aggregate) Rename(newReference string, metadata event.Metadata) error {
	if a.Version() == 0 {
		return errs.ErrNotFound
	}
	if newReference == "" {
		return errs.ErrInvalidInput
	}
	if a.reference == newReference {
		return nil
	}

	return a.Record(NewRenamed(a.ID(), a.NextVersion(), a.reference, newReference, metadata))
}

// Confirm moves a pending order to confirmed.
func (a *Aggregate) Confirm(confirmedBy uuid.UUID, metadata event.Metadata) error {
	if a.Version() == 0 {
		return errs.ErrNotFound
	}
	if a.status != StatusPending {
		return errs.ErrInvalidTransition
	}

	return a.Record(NewConfirmed(a.ID(), a.NextVersion(), confirmedBy, metadata))
}

// MarkPaid records a successful payment.
func (a *Aggregate) MarkPaid(paymentID uuid.UUID, metadata event.Metadata) error {
	if a.Version() == 0 {
		return errs.ErrNotFound
	}
	if a.status == StatusCancelled || a.status == StatusPaid {
		return errs.ErrInvalidTransition
	}

	return a.Record(NewPaid(a.ID(), a.NextVersion(), paymentID, metadata))
}

// Cancel cancels the order. Used both by callers and as the
// compensating step of the payment saga.
func (a *Aggregate) Cancel(reason string, metadata event.Metadata) error {
	if a.Version() == 0 {
		return errs.ErrNotFound
	}
	if a.status == StatusCancelled {
		return nil
	}
	if a.status == StatusPaid {
		return errs.ErrInvalidTransition
	}

	return a.Record(NewCancelled(a.ID(), a.NextVersion(), reason, metadata))
}

// CustomerID returns the owning customer.
func (a *Aggregate) CustomerID() uuid.UUID { return a.customerID }

// Reference returns the current order reference.
func (a *Aggregate) Reference() string { return a.reference }

// AmountCents returns the order amount in minor units.
func (a *Aggregate) AmountCents() int64 { return a.amountCents }

// Currency returns the order currency code.
func (a *Aggregate) Currency() string { return a.currency }

// Status returns the lifecycle state.
func (a *Aggregate) Status() Status { return a.status }

// applyChange is the single mutation point. It runs for live records
// and for replay, so it must stay deterministic.
func (a *Aggregate) applyChange(evt event.DomainEvent) error {
	switch e := evt.(type) {
	case *Created:
		a.customerID = e.CustomerID
		a.reference = e.Reference
		a.amountCents = e.AmountCents
		a.currency = e.Currency
		a.status = StatusPending

	case *Renamed:
		a.reference = e.NewReference

	case *Confirmed:
		a.status = StatusConfirmed

	case *Paid:
		a.status = StatusPaid

	case *Cancelled:
		a.status = StatusCancelled

	default:
		return fmt.Errorf("%w: %s", aggregate.ErrUnknownEventType, evt.EventType())
	}

	return nil
}

// snapshotState is the serialized form used for snapshot acceleration.
type snapshotState struct {
	CustomerID  uuid.UUID `json:"customer_id"`
	Reference   string    `json:"reference"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      Status    `json:"status"`
}

// SnapshotState serializes current state for the snapshot store.
func (a *Aggregate) SnapshotState() ([]byte, error) {
	return json.Marshal(snapshotState{
		CustomerID:  a.customerID,
		Reference:   a.reference,
		AmountCents: a.amountCents,
		Currency:    a.currency,
		Status:      a.status,
	})
}

// RestoreSnapshot seeds the aggregate from a snapshot taken at version.
// Events after that version are replayed on top by the repository.
func (a *Aggregate) RestoreSnapshot(version int, data []byte) error {
	var s snapshotState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("restore order snapshot: %w", err)
	}

	a.customerID = s.CustomerID
	a.reference = s.Reference
	a.amountCents = s.AmountCents
	a.currency = s.Currency
	a.status = s.Status
	a.Restore(version)

	return nil
}
