// Package eventstore implements the durable append-only event log:
// the MongoDB adapter, an in-memory twin for tests, the document
// serializer and the commit-notification registry.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/eventfold/eventfold/internal/application/appcore"
	"github.com/eventfold/eventfold/internal/domain/event"
)

// Default collection names.
const (
	DefaultEventsCollection    = "events"
	DefaultSnapshotsCollection = "snapshots"
)

// MongoEventStore implements appcore.EventStore on MongoDB. The unique
// index on (aggregate_id, version) is the conditional write: a
// concurrent writer proposing an occupied version slot gets a duplicate
// key error, surfaced as ErrConcurrencyConflict.
type MongoEventStore struct {
	db         *mongo.Database
	events     *mongo.Collection
	snapshots  *mongo.Collection
	serializer *EventSerializer
	notifier   *Notifier
	outbox     appcore.Outbox
	logger     *slog.Logger
}

// Option configures MongoEventStore.
type Option func(*MongoEventStore)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *MongoEventStore) {
		s.logger = logger
	}
}

// WithRegistry sets the event type registry used for deserialization.
func WithRegistry(registry *Registry) Option {
	return func(s *MongoEventStore) {
		s.serializer = NewEventSerializer(registry)
	}
}

// WithOutbox queues every appended event in the outbox alongside the
// store write, so a relay can publish it even if this process dies
// before the in-process notification runs. The outbox's unique event id
// index makes re-queueing after a partial failure safe.
func WithOutbox(ob appcore.Outbox) Option {
	return func(s *MongoEventStore) {
		s.outbox = ob
	}
}

// WithCollections overrides the default event and snapshot collection
// names.
func WithCollections(events, snapshots string) Option {
	return func(s *MongoEventStore) {
		s.events = s.db.Collection(events)
		s.snapshots = s.db.Collection(snapshots)
	}
}

// NewMongoEventStore creates a store over the given database using the
// default collection names.
func NewMongoEventStore(db *mongo.Database, opts ...Option) *MongoEventStore {
	s := &MongoEventStore{
		db:         db,
		events:     db.Collection(DefaultEventsCollection),
		snapshots:  db.Collection(DefaultSnapshotsCollection),
		serializer: NewEventSerializer(nil),
		notifier:   NewNotifier(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// EnsureIndexes creates the indexes the store relies on: the unique
// (aggregate_id, version) pair that backs optimistic concurrency, the
// secondary event_type and created_at indexes for audit queries, and
// the snapshot lookup index.
func (s *MongoEventStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "event_type", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}

	_, err = s.snapshots.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create snapshot indexes: %w", err)
	}

	return nil
}

// SaveEvent conditionally appends a single event.
func (s *MongoEventStore) SaveEvent(ctx context.Context, evt event.DomainEvent) error {
	if evt == nil {
		return errors.New("event cannot be nil")
	}
	return s.SaveEvents(ctx, evt.AggregateID(), []event.DomainEvent{evt}, evt.Version()-1)
}

// SaveEvents appends a contiguous run for one aggregate. Inserts are
// ordered, so a mid-sequence duplicate leaves the already written
// prefix intact; subscribers are notified for exactly the events that
// made it in.
func (s *MongoEventStore) SaveEvents(
	ctx context.Context,
	aggregateID string,
	events []event.DomainEvent,
	expectedVersion int,
) error {
	if len(events) == 0 {
		return nil
	}
	if expectedVersion < 0 {
		return appcore.ErrInvalidVersion
	}
	for i, evt := range events {
		if evt.Version() != expectedVersion+i+1 {
			return fmt.Errorf("%w: event %d has version %d, want %d",
				appcore.ErrInvalidEventSequence, i, evt.Version(), expectedVersion+i+1)
		}
	}

	docs, err := s.serializer.SerializeMany(events)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to serialize events",
			slog.String("aggregate_id", aggregateID),
			slog.Int("events_count", len(events)),
			slog.String("error", err.Error()),
		)
		return err
	}

	raw := make([]any, len(docs))
	for i, doc := range docs {
		raw[i] = doc
	}

	res, insertErr := s.events.InsertMany(ctx, raw)

	inserted := len(events)
	if insertErr != nil {
		inserted = insertedPrefix(res, insertErr, len(events))
	}
	for _, evt := range events[:inserted] {
		s.notifier.Publish(evt)
	}
	s.queueOutbox(ctx, events[:inserted])

	if insertErr == nil {
		return nil
	}

	if mongo.IsDuplicateKeyError(insertErr) {
		s.logger.WarnContext(ctx, "version conflict on append",
			slog.String("aggregate_id", aggregateID),
			slog.Int("expected_version", expectedVersion),
			slog.Int("inserted", inserted),
		)
		return fmt.Errorf("%w: aggregate %s expected version %d",
			appcore.ErrConcurrencyConflict, aggregateID, expectedVersion)
	}

	s.logger.ErrorContext(ctx, "failed to insert events",
		slog.String("aggregate_id", aggregateID),
		slog.Int("events_count", len(events)),
		slog.String("error", insertErr.Error()),
	)
	return fmt.Errorf("%w: insert events: %v", appcore.ErrStorageUnavailable, insertErr)
}

// queueOutbox adds appended events to the outbox. The store write has
// already happened, so a failure here only delays publication; it is
// logged loudly rather than rolled into the append result.
func (s *MongoEventStore) queueOutbox(ctx context.Context, events []event.DomainEvent) {
	if s.outbox == nil || len(events) == 0 {
		return
	}
	if err := s.outbox.AddBatch(ctx, events); err != nil {
		s.logger.ErrorContext(ctx, "failed to queue events in outbox",
			slog.String("aggregate_id", events[0].AggregateID()),
			slog.Int("events_count", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

// insertedPrefix determines how many ordered inserts succeeded before
// the first failure.
func insertedPrefix(res *mongo.InsertManyResult, err error, total int) int {
	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) {
		first := total
		for _, we := range bulkErr.WriteErrors {
			if we.Index < first {
				first = we.Index
			}
		}
		return first
	}
	if res != nil {
		return len(res.InsertedIDs)
	}
	return 0
}

// GetEvents returns events with version greater than fromVersion in
// ascending version order.
func (s *MongoEventStore) GetEvents(
	ctx context.Context,
	aggregateID string,
	fromVersion int,
) ([]event.DomainEvent, error) {
	filter := bson.M{
		"aggregate_id": aggregateID,
		"version":      bson.M{"$gt": fromVersion},
	}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})

	docs, err := s.findEvents(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 && fromVersion == 0 {
		return nil, appcore.ErrAggregateNotFound
	}

	return s.serializer.DeserializeMany(docs)
}

// CurrentVersion returns the highest committed version, 0 when the
// aggregate has no events.
func (s *MongoEventStore) CurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	filter := bson.M{"aggregate_id": aggregateID}
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})

	var doc EventDocument
	err := s.events.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: read current version: %v", appcore.ErrStorageUnavailable, err)
	}
	return doc.Version, nil
}

// GetEventsByType returns up to limit events of one type ordered by
// commit time. Best effort: commit times from different writers are
// not globally consistent.
func (s *MongoEventStore) GetEventsByType(
	ctx context.Context,
	eventType string,
	limit int,
) ([]event.DomainEvent, error) {
	filter := bson.M{"event_type": eventType}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	docs, err := s.findEvents(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return s.serializer.DeserializeMany(docs)
}

// GetEventsByDateRange returns events committed in [start, end) ordered
// by commit time.
func (s *MongoEventStore) GetEventsByDateRange(
	ctx context.Context,
	start, end time.Time,
) ([]event.DomainEvent, error) {
	filter := bson.M{"created_at": bson.M{"$gte": start, "$lt": end}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	docs, err := s.findEvents(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return s.serializer.DeserializeMany(docs)
}

// SaveSnapshot upserts a snapshot; duplicate versions overwrite, which
// is safe because snapshot content at a version is deterministic.
func (s *MongoEventStore) SaveSnapshot(ctx context.Context, aggregateID string, version int, data []byte) error {
	doc := SnapshotDocument{
		AggregateID: aggregateID,
		Version:     version,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	filter := bson.M{"aggregate_id": aggregateID, "version": version}

	_, err := s.snapshots.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to save snapshot",
			slog.String("aggregate_id", aggregateID),
			slog.Int("version", version),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: save snapshot: %v", appcore.ErrStorageUnavailable, err)
	}

	return nil
}

// GetSnapshot returns the latest snapshot for an aggregate.
func (s *MongoEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*appcore.Snapshot, error) {
	filter := bson.M{"aggregate_id": aggregateID}
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})

	var doc SnapshotDocument
	err := s.snapshots.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appcore.ErrAggregateNotFound
		}
		return nil, fmt.Errorf("%w: read snapshot: %v", appcore.ErrStorageUnavailable, err)
	}

	return &appcore.Snapshot{
		AggregateID: doc.AggregateID,
		Version:     doc.Version,
		Data:        doc.Data,
		Timestamp:   doc.CreatedAt,
	}, nil
}

// Subscribe registers a commit notification subscriber on this store
// instance.
func (s *MongoEventStore) Subscribe(fn appcore.Subscriber) func() {
	return s.notifier.Subscribe(fn)
}

func (s *MongoEventStore) findEvents(
	ctx context.Context,
	filter bson.M,
	opts *options.FindOptionsBuilder,
) ([]*EventDocument, error) {
	cursor, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find events: %v", appcore.ErrStorageUnavailable, err)
	}
	defer cursor.Close(ctx)

	var docs []*EventDocument
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: decode events: %v", appcore.ErrStorageUnavailable, err)
	}
	return docs, nil
}

var _ appcore.EventStore = (*MongoEventStore)(nil)
