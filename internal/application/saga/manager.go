// Package saga coordinates cross-aggregate workflows driven by
// committed events. A saga is a registered handler that turns one event
// into zero or more follow-up events; follow-ups go through the normal
// event store path, so workflows chain by notification, not by explicit
// control flow. Compensation is a convention: handlers emit
// compensating events for business failures instead of erroring.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eventfold/eventfold/internal/application/appcore"
	"github.com/eventfold/eventfold/internal/domain/event"
)

// DefaultDedupeSize bounds the per-saga ring of seen event ids.
const DefaultDedupeSize = 1024

// Handler computes the follow-up events for one delivered event. It
// must be idempotent-safe in intent: the manager already filters
// redeliveries by event id, but durable saga progress must still be
// modelled as events, never as handler memory.
type Handler func(ctx context.Context, evt event.DomainEvent) ([]event.DomainEvent, error)

// Definition associates a saga type with its handler.
type Definition struct {
	SagaType string
	Handler  Handler
}

// Manager fans committed events out to registered sagas and appends
// their follow-up events. It keeps no durable state: everything a saga
// knows must be reconstructible from the event log.
type Manager struct {
	store  appcore.EventStore
	logger *slog.Logger

	mu         sync.RWMutex
	defs       []Definition
	seen       map[string]*dedupeRing
	dedupeSize int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDedupeSize sets how many recently handled event ids each saga
// remembers for redelivery filtering.
func WithDedupeSize(n int) Option {
	return func(m *Manager) {
		m.dedupeSize = n
	}
}

// NewManager creates a manager appending follow-up events to store.
func NewManager(store appcore.EventStore, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		logger:     slog.Default(),
		seen:       make(map[string]*dedupeRing),
		dedupeSize: DefaultDedupeSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a saga definition. Registering the same saga type again
// replaces the previous handler.
func (m *Manager) Register(def Definition) error {
	if def.SagaType == "" {
		return errors.New("saga type cannot be empty")
	}
	if def.Handler == nil {
		return errors.New("saga handler cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.defs {
		if existing.SagaType == def.SagaType {
			m.defs[i] = def
			return nil
		}
	}
	m.defs = append(m.defs, def)
	m.seen[def.SagaType] = newDedupeRing(m.dedupeSize)
	return nil
}

// Attach subscribes the manager to the store's commit notifications and
// returns the unsubscribe func. Handler errors are logged, not
// propagated, because the in-process channel has no redelivery; the
// durable outbox/bus leg covers retries.
func (m *Manager) Attach(ctx context.Context) func() {
	return m.store.Subscribe(func(evt event.DomainEvent) {
		_ = m.Handle(ctx, evt)
	})
}

// Handle delivers one event to every registered saga. Each saga runs
// isolated: one failing handler never blocks the others. The returned
// error joins all handler failures so a bus-driven caller can leave the
// delivery unacknowledged for redelivery.
func (m *Manager) Handle(ctx context.Context, evt event.DomainEvent) error {
	m.mu.RLock()
	defs := make([]Definition, len(m.defs))
	copy(defs, m.defs)
	m.mu.RUnlock()

	var failures []error
	for _, def := range defs {
		if err := m.handleOne(ctx, def, evt); err != nil {
			m.logger.ErrorContext(ctx, "saga handler failed",
				slog.String("saga_type", def.SagaType),
				slog.String("event_type", evt.EventType()),
				slog.String("event_id", evt.EventID().String()),
				slog.String("aggregate_id", evt.AggregateID()),
				slog.String("error", err.Error()),
			)
			failures = append(failures, fmt.Errorf("%w: %s: %v", appcore.ErrSagaHandlerFailure, def.SagaType, err))
		}
	}

	return errors.Join(failures...)
}

func (m *Manager) handleOne(ctx context.Context, def Definition, evt event.DomainEvent) error {
	ring := m.ring(def.SagaType)
	eventID := evt.EventID().String()

	if ring.contains(eventID) {
		m.logger.DebugContext(ctx, "duplicate delivery skipped",
			slog.String("saga_type", def.SagaType),
			slog.String("event_id", eventID),
		)
		return nil
	}

	followUps, err := def.Handler(ctx, evt)
	if err != nil {
		// Not marked seen: a redelivery gets another chance.
		return err
	}

	if err = m.append(ctx, followUps); err != nil {
		return err
	}

	ring.add(eventID)
	return nil
}

// append writes follow-up events through the normal store path,
// batching consecutive events of the same aggregate so contiguous runs
// stay atomic where the store supports it.
func (m *Manager) append(ctx context.Context, events []event.DomainEvent) error {
	for start := 0; start < len(events); {
		end := start + 1
		for end < len(events) && events[end].AggregateID() == events[start].AggregateID() {
			end++
		}

		batch := events[start:end]
		expected := batch[0].Version() - 1
		if err := m.store.SaveEvents(ctx, batch[0].AggregateID(), batch, expected); err != nil {
			return fmt.Errorf("append follow-up events for %s: %w", batch[0].AggregateID(), err)
		}
		start = end
	}
	return nil
}

func (m *Manager) ring(sagaType string) *dedupeRing {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring, ok := m.seen[sagaType]
	if !ok {
		ring = newDedupeRing(m.dedupeSize)
		m.seen[sagaType] = ring
	}
	return ring
}

// dedupeRing is a bounded FIFO set of event ids.
type dedupeRing struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	limit int
}

func newDedupeRing(limit int) *dedupeRing {
	if limit <= 0 {
		limit = DefaultDedupeSize
	}
	return &dedupeRing{
		ids:   make(map[string]struct{}, limit),
		limit: limit,
	}
}

func (r *dedupeRing) contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

func (r *dedupeRing) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; ok {
		return
	}
	r.ids[id] = struct{}{}
	r.order = append(r.order, id)

	for len(r.order) > r.limit {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.ids, oldest)
	}
}
