package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/eventfold/eventfold/internal/application/saga"
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/order"
	"github.com/eventfold/eventfold/internal/domain/payment"
)

// Default dead letter queue configuration.
const (
	deadLetterQueueKey    = "events:dead_letter"
	defaultMaxDeadLetters = 1000
	maxPayloadLogLength   = 500
)

// LoggingHandler logs all domain events for audit trail purposes.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a new LoggingHandler.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHandler{
		logger: logger,
	}
}

// Handle logs the domain event.
func (h *LoggingHandler) Handle(ctx context.Context, evt event.DomainEvent) error {
	attrs := []any{
		slog.String("event_id", evt.EventID().String()),
		slog.String("event_type", evt.EventType()),
		slog.String("aggregate_id", evt.AggregateID()),
		slog.String("aggregate_type", evt.AggregateType()),
		slog.Time("occurred_at", evt.OccurredAt()),
		slog.Int("version", evt.Version()),
	}

	metadata := evt.Metadata()
	if metadata.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", metadata.ActorID))
	}
	if metadata.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", metadata.CorrelationID))
	}

	if payload, err := json.Marshal(evt); err == nil {
		text := string(payload)
		if len(text) > maxPayloadLogLength {
			text = text[:maxPayloadLogLength] + "..."
		}
		attrs = append(attrs, slog.String("payload", text))
	}

	h.logger.InfoContext(ctx, "domain event", attrs...)

	return nil
}

// AsEventHandler converts LoggingHandler to EventHandler function type.
func (h *LoggingHandler) AsEventHandler() EventHandler {
	return h.Handle
}

// DeadLetterHandler stores failed events in Redis for later analysis.
type DeadLetterHandler struct {
	client        *redis.Client
	logger        *slog.Logger
	queueKey      string
	maxDeadLetter int64
}

// DeadLetterEntry represents a failed event stored in the dead letter queue.
type DeadLetterEntry struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Error         string          `json:"error"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

// DeadLetterHandlerOption configures DeadLetterHandler.
type DeadLetterHandlerOption func(*DeadLetterHandler)

// WithDeadLetterQueueKey sets a custom key for the dead letter queue.
func WithDeadLetterQueueKey(key string) DeadLetterHandlerOption {
	return func(h *DeadLetterHandler) {
		h.queueKey = key
	}
}

// WithDeadLetterLogger sets the logger for DeadLetterHandler.
func WithDeadLetterLogger(logger *slog.Logger) DeadLetterHandlerOption {
	return func(h *DeadLetterHandler) {
		h.logger = logger
	}
}

// WithMaxDeadLetters sets the maximum number of entries to keep in the queue.
func WithMaxDeadLetters(maxEntries int64) DeadLetterHandlerOption {
	return func(h *DeadLetterHandler) {
		h.maxDeadLetter = maxEntries
	}
}

// NewDeadLetterHandler creates a new DeadLetterHandler.
func NewDeadLetterHandler(client *redis.Client, opts ...DeadLetterHandlerOption) *DeadLetterHandler {
	h := &DeadLetterHandler{
		client:        client,
		logger:        slog.Default(),
		queueKey:      deadLetterQueueKey,
		maxDeadLetter: defaultMaxDeadLetters,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Handle stores a failed event in the dead letter queue.
func (h *DeadLetterHandler) Handle(ctx context.Context, evt event.DomainEvent, err error) {
	entry := DeadLetterEntry{
		EventID:       evt.EventID().String(),
		EventType:     evt.EventType(),
		AggregateID:   evt.AggregateID(),
		AggregateType: evt.AggregateType(),
		Error:         err.Error(),
		Timestamp:     evt.OccurredAt().Unix(),
	}

	if payload, marshalErr := json.Marshal(evt); marshalErr == nil {
		entry.Payload = payload
	}

	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		h.logger.ErrorContext(ctx, "failed to marshal dead letter entry",
			slog.String("event_type", evt.EventType()),
			slog.String("error", marshalErr.Error()),
		)
		return
	}

	if pushErr := h.client.LPush(ctx, h.queueKey, string(data)).Err(); pushErr != nil {
		h.logger.ErrorContext(ctx, "failed to push to dead letter queue",
			slog.String("event_type", evt.EventType()),
			slog.String("error", pushErr.Error()),
		)
		return
	}

	// Trim queue to max size
	if trimErr := h.client.LTrim(ctx, h.queueKey, 0, h.maxDeadLetter-1).Err(); trimErr != nil {
		h.logger.WarnContext(ctx, "failed to trim dead letter queue",
			slog.String("error", trimErr.Error()),
		)
	}

	h.logger.ErrorContext(ctx, "event moved to dead letter queue",
		slog.String("event_type", evt.EventType()),
		slog.String("aggregate_id", evt.AggregateID()),
		slog.String("original_error", err.Error()),
	)
}

// GetDeadLetters retrieves entries from the dead letter queue.
func (h *DeadLetterHandler) GetDeadLetters(ctx context.Context, count int64) ([]DeadLetterEntry, error) {
	requestedCount := count
	if requestedCount <= 0 {
		requestedCount = 10
	}

	data, rangeErr := h.client.LRange(ctx, h.queueKey, 0, requestedCount-1).Result()
	if rangeErr != nil {
		return nil, fmt.Errorf("failed to get dead letters: %w", rangeErr)
	}

	entries := make([]DeadLetterEntry, 0, len(data))
	for _, d := range data {
		var entry DeadLetterEntry
		if unmarshalErr := json.Unmarshal([]byte(d), &entry); unmarshalErr != nil {
			h.logger.WarnContext(ctx, "failed to unmarshal dead letter entry",
				slog.String("error", unmarshalErr.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ClearDeadLetters removes all entries from the dead letter queue.
func (h *DeadLetterHandler) ClearDeadLetters(ctx context.Context) error {
	return h.client.Del(ctx, h.queueKey).Err()
}

// QueueLength returns the number of entries in the dead letter queue.
func (h *DeadLetterHandler) QueueLength(ctx context.Context) (int64, error) {
	return h.client.LLen(ctx, h.queueKey).Result()
}

// HandlerRegistry manages event handler registration.
type HandlerRegistry struct {
	bus    *RedisEventBus
	logger *slog.Logger
}

// NewHandlerRegistry creates a new HandlerRegistry.
func NewHandlerRegistry(bus *RedisEventBus, logger *slog.Logger) *HandlerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandlerRegistry{
		bus:    bus,
		logger: logger,
	}
}

// Register registers an event handler for specific event types.
func (r *HandlerRegistry) Register(eventTypes []string, handler EventHandler) error {
	for _, eventType := range eventTypes {
		if err := r.bus.Subscribe(eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
		r.logger.Debug("registered handler for event",
			slog.String("event_type", eventType),
		)
	}
	return nil
}

// AllEventTypes lists every event type the built-in aggregates emit.
// Redis Pub/Sub has no wildcard channels, so the full list is needed
// when a handler should observe all events.
func AllEventTypes() []string {
	return []string{
		order.EventTypeOrderCreated,
		order.EventTypeOrderRenamed,
		order.EventTypeOrderConfirmed,
		order.EventTypeOrderPaid,
		order.EventTypeOrderCancelled,
		payment.EventTypePaymentRequested,
		payment.EventTypePaymentCaptured,
		payment.EventTypePaymentFailed,
	}
}

// RegisterSagaManager routes received events into the saga manager.
// The manager handles its own deduplication, so at-least-once delivery
// from the bus is safe.
func (r *HandlerRegistry) RegisterSagaManager(m *saga.Manager) error {
	return r.Register(AllEventTypes(), m.Handle)
}

// RegisterLoggingHandler registers the logging handler for specified event types.
func (r *HandlerRegistry) RegisterLoggingHandler(handler *LoggingHandler, eventTypes []string) error {
	return r.Register(eventTypes, handler.AsEventHandler())
}
