//go:build integration

package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/order"
	"github.com/eventfold/eventfold/internal/domain/uuid"
	"github.com/eventfold/eventfold/internal/infrastructure/outbox"
	"github.com/eventfold/eventfold/tests/testutil"
)

func setupOutbox(t *testing.T) (*outbox.MongoOutbox, *mongo.Collection) {
	t.Helper()

	db := testutil.SetupMongoDB(t)
	collection := db.Collection("outbox_events")

	ob := outbox.NewMongoOutbox(collection)
	require.NoError(t, ob.EnsureIndexes(context.Background()))

	return ob, collection
}

func orderCreated(t *testing.T) *order.Created {
	t.Helper()
	md := event.NewMetadata("user-1", "corr-1", "")
	return order.NewCreated(uuid.New(), 1, uuid.New(), "ORD-1", 4990, "EUR", md)
}

func TestMongoOutbox_Add(t *testing.T) {
	ob, collection := setupOutbox(t)
	ctx := context.Background()

	evt := orderCreated(t)

	require.NoError(t, ob.Add(ctx, evt))

	count, err := collection.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	t.Run("same event is not queued twice", func(t *testing.T) {
		require.NoError(t, ob.Add(ctx, evt))

		count, err = collection.CountDocuments(ctx, bson.M{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("nil event is rejected", func(t *testing.T) {
		require.Error(t, ob.Add(ctx, nil))
	})
}

func TestMongoOutbox_AddBatch(t *testing.T) {
	ob, collection := setupOutbox(t)
	ctx := context.Background()

	events := []event.DomainEvent{
		orderCreated(t),
		orderCreated(t),
		orderCreated(t),
	}

	require.NoError(t, ob.AddBatch(ctx, events))

	count, err := collection.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	t.Run("empty batch is a no-op", func(t *testing.T) {
		require.NoError(t, ob.AddBatch(ctx, nil))
	})

	t.Run("nil event in batch is rejected", func(t *testing.T) {
		err = ob.AddBatch(ctx, []event.DomainEvent{orderCreated(t), nil})
		require.Error(t, err)
	})

	t.Run("duplicates do not block the rest of the batch", func(t *testing.T) {
		fresh := orderCreated(t)
		require.NoError(t, ob.AddBatch(ctx, []event.DomainEvent{events[0], fresh}))

		count, err = collection.CountDocuments(ctx, bson.M{})
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})
}

func TestMongoOutbox_Poll(t *testing.T) {
	ob, _ := setupOutbox(t)
	ctx := context.Background()

	first := orderCreated(t)
	second := orderCreated(t)
	require.NoError(t, ob.Add(ctx, first))
	// created_at has millisecond precision; keep the two adds apart so
	// the ordering assertion below is deterministic.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, ob.Add(ctx, second))

	entries, err := ob.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Oldest first
	assert.Equal(t, first.EventID().String(), entries[0].EventID)
	assert.Equal(t, second.EventID().String(), entries[1].EventID)

	// The entry carries the full event identity for republication
	assert.Equal(t, first.EventType(), entries[0].EventType)
	assert.Equal(t, first.AggregateID(), entries[0].AggregateID)
	assert.Equal(t, first.AggregateType(), entries[0].AggregateType)
	assert.Equal(t, first.Version(), entries[0].Version)
	assert.Equal(t, "corr-1", entries[0].Metadata.CorrelationID)
	assert.NotEmpty(t, entries[0].Payload)
	assert.Nil(t, entries[0].ProcessedAt)

	t.Run("respects batch size", func(t *testing.T) {
		limited, pollErr := ob.Poll(ctx, 1)
		require.NoError(t, pollErr)
		assert.Len(t, limited, 1)
	})
}

func TestMongoOutbox_MarkProcessed(t *testing.T) {
	ob, _ := setupOutbox(t)
	ctx := context.Background()

	require.NoError(t, ob.Add(ctx, orderCreated(t)))

	entries, err := ob.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, ob.MarkProcessed(ctx, entries[0].ID))

	// Processed entries are no longer polled
	entries, err = ob.Poll(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	t.Run("unknown entry returns error", func(t *testing.T) {
		require.Error(t, ob.MarkProcessed(ctx, "no-such-entry"))
	})
}

func TestMongoOutbox_MarkFailed(t *testing.T) {
	ob, _ := setupOutbox(t)
	ctx := context.Background()

	require.NoError(t, ob.Add(ctx, orderCreated(t)))

	entries, err := ob.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, ob.MarkFailed(ctx, entries[0].ID, errors.New("redis unavailable")))

	// A failed entry stays pending with its retry count bumped
	entries, err = ob.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.Equal(t, "redis unavailable", entries[0].LastError)

	t.Run("unknown entry returns error", func(t *testing.T) {
		require.Error(t, ob.MarkFailed(ctx, "no-such-entry", errors.New("x")))
	})
}

func TestMongoOutbox_Cleanup(t *testing.T) {
	ob, collection := setupOutbox(t)
	ctx := context.Background()

	require.NoError(t, ob.Add(ctx, orderCreated(t)))
	require.NoError(t, ob.Add(ctx, orderCreated(t)))

	entries, err := ob.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Backdate one processed entry beyond the cleanup age
	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = collection.UpdateOne(ctx,
		bson.M{"_id": entries[0].ID},
		bson.M{"$set": bson.M{"processed_at": old}},
	)
	require.NoError(t, err)
	require.NoError(t, ob.MarkProcessed(ctx, entries[1].ID))

	deleted, err := ob.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// The recently processed entry survives
	count, err := collection.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMongoOutbox_CountAndStats(t *testing.T) {
	ob, _ := setupOutbox(t)
	ctx := context.Background()

	count, err := ob.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, ob.Add(ctx, orderCreated(t)))
	require.NoError(t, ob.Add(ctx, orderCreated(t)))

	count, err = ob.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	pending, oldest, err := ob.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
	assert.False(t, oldest.IsZero())

	entries, err := ob.Poll(ctx, 10)
	require.NoError(t, err)
	for _, entry := range entries {
		require.NoError(t, ob.MarkProcessed(ctx, entry.ID))
	}

	count, err = ob.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
