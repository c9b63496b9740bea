package payment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/internal/domain/errs"
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/payment"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

func requested(t *testing.T) *payment.Aggregate {
	t.Helper()

	a := payment.New(uuid.New())
	require.NoError(t, a.Request(uuid.New(), 4990, "EUR", event.Metadata{}))
	return a
}

func TestRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		orderID := uuid.New()
		a := payment.New(uuid.New())

		err := a.Request(orderID, 4990, "EUR", event.Metadata{})

		require.NoError(t, err)
		assert.Equal(t, 1, a.Version())
		assert.Equal(t, orderID, a.OrderID())
		assert.Equal(t, payment.StatusRequested, a.Status())
		require.Len(t, a.UncommittedEvents(), 1)
		assert.Equal(t, payment.EventTypePaymentRequested, a.UncommittedEvents()[0].EventType())
	})

	t.Run("double request", func(t *testing.T) {
		a := requested(t)
		require.ErrorIs(t, a.Request(uuid.New(), 1, "EUR", event.Metadata{}), errs.ErrAlreadyExists)
	})

	t.Run("invalid input", func(t *testing.T) {
		a := payment.New(uuid.New())
		require.ErrorIs(t, a.Request("", 100, "EUR", event.Metadata{}), errs.ErrInvalidInput)
		require.ErrorIs(t, a.Request(uuid.New(), -1, "EUR", event.Metadata{}), errs.ErrInvalidInput)
	})
}

func TestCapture(t *testing.T) {
	t.Run("captures a requested payment", func(t *testing.T) {
		a := requested(t)

		require.NoError(t, a.Capture("prov-123", event.Metadata{}))
		assert.Equal(t, payment.StatusCaptured, a.Status())
		assert.Equal(t, "prov-123", a.ProviderRef())
	})

	t.Run("cannot capture a failed payment", func(t *testing.T) {
		a := requested(t)
		require.NoError(t, a.Fail("card declined", event.Metadata{}))

		require.ErrorIs(t, a.Capture("prov-123", event.Metadata{}), errs.ErrInvalidTransition)
	})
}

func TestFail(t *testing.T) {
	a := requested(t)
	orderID := a.OrderID()

	require.NoError(t, a.Fail("card declined", event.Metadata{}))

	assert.Equal(t, payment.StatusFailed, a.Status())
	assert.Equal(t, "card declined", a.FailReason())

	evts := a.UncommittedEvents()
	require.Len(t, evts, 2)
	failed, ok := evts[1].(*payment.Failed)
	require.True(t, ok)
	assert.Equal(t, orderID, failed.OrderID, "failed event must carry the order id for compensation")
}

func TestReplay(t *testing.T) {
	a := requested(t)
	require.NoError(t, a.Capture("prov-9", event.Metadata{}))

	replayed := payment.New(a.ID())
	require.NoError(t, replayed.Replay(a.UncommittedEvents()))

	assert.Equal(t, a.Version(), replayed.Version())
	assert.Equal(t, a.Status(), replayed.Status())
	assert.Equal(t, a.ProviderRef(), replayed.ProviderRef())
}
