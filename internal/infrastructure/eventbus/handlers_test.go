package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/internal/infrastructure/eventbus"
	"github.com/eventfold/eventfold/tests/testutil"
)

func TestLoggingHandler(t *testing.T) {
	handler := eventbus.NewLoggingHandler(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	err := handler.Handle(context.Background(), newOrderCreated(t))
	require.NoError(t, err)
}

func TestDeadLetterHandler(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	ctx := context.Background()

	t.Run("stores failed event", func(t *testing.T) {
		handler := eventbus.NewDeadLetterHandler(client,
			eventbus.WithDeadLetterQueueKey("test:dlq:store"),
		)

		evt := newOrderCreated(t)
		handler.Handle(ctx, evt, errors.New("handler exploded"))

		entries, err := handler.GetDeadLetters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		assert.Equal(t, evt.EventID().String(), entries[0].EventID)
		assert.Equal(t, evt.EventType(), entries[0].EventType)
		assert.Equal(t, evt.AggregateID(), entries[0].AggregateID)
		assert.Equal(t, "handler exploded", entries[0].Error)
		assert.NotEmpty(t, entries[0].Payload)
	})

	t.Run("trims queue to max entries", func(t *testing.T) {
		handler := eventbus.NewDeadLetterHandler(client,
			eventbus.WithDeadLetterQueueKey("test:dlq:trim"),
			eventbus.WithMaxDeadLetters(3),
		)

		for range 5 {
			handler.Handle(ctx, newOrderCreated(t), errors.New("boom"))
		}

		length, err := handler.QueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), length)
	})

	t.Run("clear empties the queue", func(t *testing.T) {
		handler := eventbus.NewDeadLetterHandler(client,
			eventbus.WithDeadLetterQueueKey("test:dlq:clear"),
		)

		handler.Handle(ctx, newOrderCreated(t), errors.New("boom"))
		require.NoError(t, handler.ClearDeadLetters(ctx))

		length, err := handler.QueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), length)
	})
}

func TestHandlerRegistry(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	bus := eventbus.NewRedisEventBus(client)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	registry := eventbus.NewHandlerRegistry(bus, logger)

	logging := eventbus.NewLoggingHandler(logger)
	require.NoError(t, registry.RegisterLoggingHandler(logging, eventbus.AllEventTypes()))

	for _, eventType := range eventbus.AllEventTypes() {
		assert.Equal(t, 1, bus.HandlerCount(eventType), eventType)
	}
}
