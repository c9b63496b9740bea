// Package worker contains long-running background processes.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eventfold/eventfold/internal/application/appcore"
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/uuid"
	"github.com/eventfold/eventfold/internal/infrastructure/eventstore"
	"github.com/eventfold/eventfold/internal/infrastructure/metrics"
)

// Default outbox worker configuration values.
const (
	defaultOutboxPollInterval = 100 * time.Millisecond
	defaultOutboxBatchSize    = 100
	defaultOutboxMaxRetries   = 5
	defaultOutboxCleanupAge   = 7 * 24 * time.Hour // 7 days
)

// OutboxWorkerConfig contains configuration for the outbox worker.
type OutboxWorkerConfig struct {
	// PollInterval is the time between polling the outbox for new events.
	PollInterval time.Duration

	// BatchSize is the maximum number of events to process in each poll cycle.
	BatchSize int

	// MaxRetries is the maximum number of retry attempts for failed publishes.
	MaxRetries int

	// CleanupAge is the age after which processed entries are cleaned up.
	CleanupAge time.Duration

	// CleanupInterval is how often to run the cleanup process.
	CleanupInterval time.Duration

	// Enabled determines if the worker should run.
	Enabled bool
}

// DefaultOutboxWorkerConfig returns sensible default configuration.
func DefaultOutboxWorkerConfig() OutboxWorkerConfig {
	return OutboxWorkerConfig{
		PollInterval:    defaultOutboxPollInterval,
		BatchSize:       defaultOutboxBatchSize,
		MaxRetries:      defaultOutboxMaxRetries,
		CleanupAge:      defaultOutboxCleanupAge,
		CleanupInterval: 1 * time.Hour,
		Enabled:         true,
	}
}

// outboxStatser is implemented by outboxes that can report pending
// depth. Used for backlog gauges and periodic logging.
type outboxStatser interface {
	Stats(ctx context.Context) (int64, time.Time, error)
}

// OutboxWorker drains the outbox and publishes events to the event bus.
// Entries are rebuilt into their typed events before publication, so
// downstream subscribers cannot tell a drained event from a live one.
type OutboxWorker struct {
	outbox   appcore.Outbox
	eventBus event.Bus
	registry *eventstore.Registry
	logger   *slog.Logger
	metrics  *metrics.OutboxMetrics
	config   OutboxWorkerConfig
}

// NewOutboxWorker creates a new outbox worker. A nil metrics disables
// instrumentation.
func NewOutboxWorker(
	outbox appcore.Outbox,
	eventBus event.Bus,
	registry *eventstore.Registry,
	logger *slog.Logger,
	outboxMetrics *metrics.OutboxMetrics,
	config OutboxWorkerConfig,
) *OutboxWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = eventstore.DefaultRegistry()
	}

	return &OutboxWorker{
		outbox:   outbox,
		eventBus: eventBus,
		registry: registry,
		logger:   logger,
		metrics:  outboxMetrics,
		config:   config,
	}
}

// Run starts the outbox worker and runs until the context is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	if !w.config.Enabled {
		w.logger.InfoContext(ctx, "outbox worker is disabled")
		return nil
	}

	w.logger.InfoContext(ctx, "starting outbox worker",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize),
		slog.Int("max_retries", w.config.MaxRetries),
	)

	pollTicker := time.NewTicker(w.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(w.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "outbox worker stopped")
			return ctx.Err()

		case <-pollTicker.C:
			w.updateGaugeMetrics(ctx)

			if err := w.processBatch(ctx); err != nil {
				w.logger.ErrorContext(ctx, "failed to process outbox batch",
					slog.String("error", err.Error()),
				)
			}

		case <-cleanupTicker.C:
			deleted, err := w.outbox.Cleanup(ctx, w.config.CleanupAge)
			if err != nil {
				w.logger.ErrorContext(ctx, "failed to cleanup outbox",
					slog.String("error", err.Error()),
				)
			} else if w.metrics != nil && deleted > 0 {
				w.metrics.CleanupDeletedTotal.Add(float64(deleted))
			}
			w.logBacklog(ctx)
		}
	}
}

// processBatch polls and processes a batch of events from the outbox.
func (w *OutboxWorker) processBatch(ctx context.Context) error {
	entries, err := w.outbox.Poll(ctx, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to poll outbox: %w", err)
	}

	if len(entries) == 0 {
		return nil
	}

	if w.metrics != nil {
		w.metrics.PollBatchSize.Observe(float64(len(entries)))
	}

	w.logger.DebugContext(ctx, "processing outbox batch",
		slog.Int("count", len(entries)),
	)

	var processed, failed int
	for _, entry := range entries {
		if processErr := w.processEntry(ctx, entry); processErr != nil {
			failed++
			w.logger.WarnContext(ctx, "failed to process outbox entry",
				slog.String("entry_id", entry.ID),
				slog.String("event_type", entry.EventType),
				slog.String("error", processErr.Error()),
			)
		} else {
			processed++
		}
	}

	if processed > 0 || failed > 0 {
		w.logger.DebugContext(ctx, "outbox batch completed",
			slog.Int("processed", processed),
			slog.Int("failed", failed),
		)
	}

	return nil
}

// processEntry publishes a single outbox entry to the event bus.
func (w *OutboxWorker) processEntry(ctx context.Context, entry appcore.OutboxEntry) error {
	// Time from append to publication
	defer func() {
		if w.metrics != nil {
			w.metrics.ProcessingDuration.WithLabelValues(entry.EventType).
				Observe(time.Since(entry.CreatedAt).Seconds())
		}
	}()

	// Check if max retries exceeded
	if entry.RetryCount >= w.config.MaxRetries {
		w.logger.ErrorContext(ctx, "outbox entry exceeded max retries, marking as processed",
			slog.String("entry_id", entry.ID),
			slog.String("event_type", entry.EventType),
			slog.Int("retry_count", entry.RetryCount),
			slog.String("last_error", entry.LastError),
		)
		// Mark as processed to prevent infinite retries
		if err := w.outbox.MarkProcessed(ctx, entry.ID); err != nil {
			return err
		}
		if w.metrics != nil {
			w.metrics.EventsProcessed.WithLabelValues(entry.EventType, "failed").Inc()
		}
		return nil
	}

	evt, err := w.entryToEvent(entry)
	if err != nil {
		// Undecodable entries can never publish; park them instead of
		// retrying forever.
		w.logger.ErrorContext(ctx, "outbox entry cannot be decoded, marking as processed",
			slog.String("entry_id", entry.ID),
			slog.String("event_type", entry.EventType),
			slog.String("error", err.Error()),
		)
		if markErr := w.outbox.MarkProcessed(ctx, entry.ID); markErr != nil {
			return markErr
		}
		if w.metrics != nil {
			w.metrics.EventsProcessed.WithLabelValues(entry.EventType, "failed").Inc()
		}
		return nil
	}

	publishStart := time.Now()
	if err = w.eventBus.Publish(ctx, evt); err != nil {
		if w.metrics != nil {
			w.metrics.RetryTotal.WithLabelValues(entry.EventType).Inc()
		}
		if markErr := w.outbox.MarkFailed(ctx, entry.ID, err); markErr != nil {
			w.logger.ErrorContext(ctx, "failed to mark outbox entry as failed",
				slog.String("entry_id", entry.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return fmt.Errorf("failed to publish event: %w", err)
	}

	if w.metrics != nil {
		w.metrics.PublishDuration.WithLabelValues(entry.EventType).
			Observe(time.Since(publishStart).Seconds())
	}

	if err = w.outbox.MarkProcessed(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to mark entry as processed: %w", err)
	}

	if w.metrics != nil {
		w.metrics.EventsProcessed.WithLabelValues(entry.EventType, "success").Inc()
	}

	return nil
}

// entryToEvent rebuilds the typed domain event from an outbox entry.
func (w *OutboxWorker) entryToEvent(entry appcore.OutboxEntry) (event.DomainEvent, error) {
	eventID, err := uuid.Parse(entry.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", entry.EventID, err)
	}

	base := event.RestoreBaseEvent(
		eventID,
		entry.EventType,
		entry.AggregateID,
		entry.AggregateType,
		entry.Version,
		entry.OccurredAt,
		entry.Metadata,
	)

	return w.registry.DecodeJSON(base, entry.Payload)
}

// GetStats returns current outbox statistics for monitoring.
func (w *OutboxWorker) GetStats(ctx context.Context) (OutboxStats, error) {
	count, err := w.outbox.Count(ctx)
	if err != nil {
		return OutboxStats{}, err
	}

	return OutboxStats{
		PendingCount: count,
	}, nil
}

// updateGaugeMetrics refreshes the pending count and oldest event age
// gauges before each poll.
func (w *OutboxWorker) updateGaugeMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}

	statser, ok := w.outbox.(outboxStatser)
	if !ok {
		return
	}

	count, oldest, err := statser.Stats(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to get outbox stats for metrics",
			slog.String("error", err.Error()),
		)
		return
	}

	w.metrics.EventsPending.Set(float64(count))
	if count > 0 && !oldest.IsZero() {
		w.metrics.OldestEventAge.Set(time.Since(oldest).Seconds())
	} else {
		w.metrics.OldestEventAge.Set(0)
	}
}

// logBacklog logs pending depth and the age of the oldest entry.
func (w *OutboxWorker) logBacklog(ctx context.Context) {
	statser, ok := w.outbox.(outboxStatser)
	if !ok {
		return
	}

	count, oldest, err := statser.Stats(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to get outbox stats",
			slog.String("error", err.Error()),
		)
		return
	}

	attrs := []any{slog.Int64("pending", count)}
	if count > 0 && !oldest.IsZero() {
		attrs = append(attrs, slog.Duration("oldest_age", time.Since(oldest)))
	}
	w.logger.InfoContext(ctx, "outbox backlog", attrs...)
}

// OutboxStats contains outbox statistics for monitoring.
type OutboxStats struct {
	PendingCount int64
}

// ProcessOnce processes a single batch of events (useful for testing).
func (w *OutboxWorker) ProcessOnce(ctx context.Context) error {
	return w.processBatch(ctx)
}
