// Package repository orchestrates load and save for event-sourced
// aggregates: optimistic appends through the event store, snapshot
// acceleration on load, and threshold-based snapshot writes on save.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eventfold/eventfold/internal/application/appcore"
	"github.com/eventfold/eventfold/internal/domain/aggregate"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// DefaultSnapshotThreshold is how many committed events trigger a new
// snapshot when the caller does not configure one.
const DefaultSnapshotThreshold = 10

const snapshotWriteTimeout = 5 * time.Second

// Repository loads and saves one aggregate kind. T is the concrete
// aggregate pointer type produced by the factory.
type Repository[T aggregate.Aggregate] struct {
	store             appcore.EventStore
	factory           func(id uuid.UUID) T
	snapshotThreshold int
	logger            *slog.Logger
	snapshotWG        sync.WaitGroup
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	snapshotThreshold int
	logger            *slog.Logger
}

// WithSnapshotThreshold sets how many events accumulate between
// snapshots. Zero disables snapshotting entirely.
func WithSnapshotThreshold(n int) Option {
	return func(o *options) {
		o.snapshotThreshold = n
	}
}

// WithLogger sets the logger for the repository.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a repository for the aggregate kind produced by factory.
func New[T aggregate.Aggregate](
	store appcore.EventStore,
	factory func(id uuid.UUID) T,
	opts ...Option,
) *Repository[T] {
	o := options{
		snapshotThreshold: DefaultSnapshotThreshold,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Repository[T]{
		store:             store,
		factory:           factory,
		snapshotThreshold: o.snapshotThreshold,
		logger:            o.logger,
	}
}

// Save persists the aggregate's uncommitted events. On success the
// buffer is cleared and, when the snapshot threshold is crossed, a
// snapshot is written in the background; a failed snapshot is logged
// and skipped, never rolled into the save result.
//
// Callers that need cancellation must cancel before Save issues the
// append; a conditional write in flight cannot be recalled.
func (r *Repository[T]) Save(ctx context.Context, agg T) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	priorVersion := agg.Version() - len(events)
	if err := r.store.SaveEvents(ctx, agg.ID().String(), events, priorVersion); err != nil {
		if errors.Is(err, appcore.ErrConcurrencyConflict) {
			return err
		}
		return fmt.Errorf("save %s %s: %w", agg.AggregateType(), agg.ID(), err)
	}

	agg.MarkEventsAsCommitted()
	r.maybeSnapshot(ctx, agg, priorVersion)

	return nil
}

// GetByID rebuilds the aggregate: latest snapshot if one exists and the
// aggregate supports snapshots, then every later event folded on top.
// Returns ErrAggregateNotFound when there is no history at all.
func (r *Repository[T]) GetByID(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T

	agg := r.factory(id)
	fromVersion := 0

	if snapshotter, ok := any(agg).(aggregate.Snapshotter); ok {
		snap, err := r.store.GetSnapshot(ctx, id.String())
		switch {
		case err == nil:
			if restoreErr := snapshotter.RestoreSnapshot(snap.Version, snap.Data); restoreErr != nil {
				// A bad snapshot is an optimization we can live
				// without; fall back to full replay.
				r.logger.WarnContext(ctx, "snapshot restore failed, replaying full history",
					slog.String("aggregate_id", id.String()),
					slog.Int("snapshot_version", snap.Version),
					slog.String("error", restoreErr.Error()),
				)
				agg = r.factory(id)
			} else {
				fromVersion = snap.Version
			}
		case errors.Is(err, appcore.ErrAggregateNotFound):
			// No snapshot yet; replay from the beginning.
		default:
			return zero, fmt.Errorf("load snapshot for %s: %w", id, err)
		}
	}

	events, err := r.store.GetEvents(ctx, id.String(), fromVersion)
	if err != nil {
		if errors.Is(err, appcore.ErrAggregateNotFound) {
			return zero, appcore.ErrAggregateNotFound
		}
		return zero, fmt.Errorf("load events for %s: %w", id, err)
	}

	if replayErr := agg.Replay(events); replayErr != nil {
		if errors.Is(replayErr, aggregate.ErrSequenceGap) {
			return zero, fmt.Errorf("%w: %v", appcore.ErrInvalidEventSequence, replayErr)
		}
		return zero, fmt.Errorf("replay %s: %w", id, replayErr)
	}

	return agg, nil
}

// WaitSnapshots blocks until in-flight snapshot writes complete. Used
// on shutdown and by tests; normal operation never needs it.
func (r *Repository[T]) WaitSnapshots() {
	r.snapshotWG.Wait()
}

// maybeSnapshot writes a snapshot when the save moved the aggregate
// across a threshold multiple. State is serialized synchronously so the
// caller's later mutations cannot leak into the snapshot; only the
// store write happens in the background.
func (r *Repository[T]) maybeSnapshot(ctx context.Context, agg T, priorVersion int) {
	if r.snapshotThreshold <= 0 {
		return
	}
	snapshotter, ok := any(agg).(aggregate.Snapshotter)
	if !ok {
		return
	}
	newVersion := agg.Version()
	if newVersion/r.snapshotThreshold <= priorVersion/r.snapshotThreshold {
		return
	}

	data, err := snapshotter.SnapshotState()
	if err != nil {
		r.logger.WarnContext(ctx, "snapshot serialization failed, skipping",
			slog.String("aggregate_id", agg.ID().String()),
			slog.Int("version", newVersion),
			slog.String("error", err.Error()),
		)
		return
	}

	aggregateID := agg.ID().String()
	bgCtx := context.WithoutCancel(ctx)

	r.snapshotWG.Add(1)
	go func() {
		defer r.snapshotWG.Done()

		writeCtx, cancel := context.WithTimeout(bgCtx, snapshotWriteTimeout)
		defer cancel()

		if saveErr := r.store.SaveSnapshot(writeCtx, aggregateID, newVersion, data); saveErr != nil {
			r.logger.WarnContext(writeCtx, "snapshot write failed, skipping until next threshold",
				slog.String("aggregate_id", aggregateID),
				slog.Int("version", newVersion),
				slog.String("error", saveErr.Error()),
			)
		}
	}()
}
