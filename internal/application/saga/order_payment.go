package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventfold/eventfold/internal/application/appcore"
	"github.com/eventfold/eventfold/internal/domain/errs"
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/order"
	"github.com/eventfold/eventfold/internal/domain/payment"
	"github.com/eventfold/eventfold/internal/domain/uuid"
	"github.com/eventfold/eventfold/internal/infrastructure/repository"
)

// OrderPaymentSagaType identifies the order/payment workflow.
const OrderPaymentSagaType = "order-payment"

const sagaActorID = "saga:order-payment"

// OrderPaymentSaga drives payment for new orders and compensates the
// order when the charge fails:
//
//	order.created   -> payment.requested on a new payment stream
//	payment.failed  -> order.cancelled (compensation)
//
// Capture itself belongs to the payment provider integration; it
// reports back by appending payment.captured or payment.failed.
type OrderPaymentSaga struct {
	orders *repository.Repository[*order.Aggregate]
}

// NewOrderPaymentSaga creates the saga over the order repository.
func NewOrderPaymentSaga(orders *repository.Repository[*order.Aggregate]) *OrderPaymentSaga {
	return &OrderPaymentSaga{orders: orders}
}

// Definition returns the registrable definition.
func (s *OrderPaymentSaga) Definition() Definition {
	return Definition{
		SagaType: OrderPaymentSagaType,
		Handler:  s.handle,
	}
}

func (s *OrderPaymentSaga) handle(ctx context.Context, evt event.DomainEvent) ([]event.DomainEvent, error) {
	switch e := evt.(type) {
	case *order.Created:
		return s.requestPayment(e)
	case *payment.Failed:
		return s.cancelOrder(ctx, e)
	default:
		return nil, nil
	}
}

func (s *OrderPaymentSaga) requestPayment(e *order.Created) ([]event.DomainEvent, error) {
	orderID, err := uuid.Parse(e.AggregateID())
	if err != nil {
		return nil, fmt.Errorf("order id on %s: %w", e.EventID(), err)
	}

	p := payment.New(uuid.New())
	if err = p.Request(orderID, e.AmountCents, e.Currency, event.CausedBy(e, sagaActorID)); err != nil {
		return nil, err
	}
	return p.UncommittedEvents(), nil
}

func (s *OrderPaymentSaga) cancelOrder(ctx context.Context, e *payment.Failed) ([]event.DomainEvent, error) {
	o, err := s.orders.GetByID(ctx, e.OrderID)
	if err != nil {
		if errors.Is(err, appcore.ErrAggregateNotFound) {
			// Nothing to compensate.
			return nil, nil
		}
		return nil, err
	}

	err = o.Cancel("payment failed: "+e.Reason, event.CausedBy(e, sagaActorID))
	if err != nil {
		// A paid or already handled order cannot be cancelled; that is
		// a settled outcome, not a saga failure.
		if errors.Is(err, errs.ErrInvalidTransition) {
			return nil, nil
		}
		return nil, err
	}
	return o.UncommittedEvents(), nil
}
