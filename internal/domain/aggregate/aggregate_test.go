package aggregate_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/eventfold/internal/domain/aggregate"
	"github.com/eventfold/eventfold/internal/domain/event"
	"github.com/eventfold/eventfold/internal/domain/uuid"
)

// counter is a minimal aggregate used to test the base in isolation.
type counter struct {
	aggregate.Base

	total int
}

type incremented struct {
	event.BaseEvent

	By int
}

func newCounter(id uuid.UUID) *counter {
	c := &counter{}
	c.Init(id, "Counter", c.applyChange)
	return c
}

func (c *counter) Increment(by int) error {
	evt := &incremented{
		BaseEvent: event.NewBaseEvent("counter.incremented", c.ID().String(), "Counter", c.NextVersion(), event.Metadata{}),
		By:        by,
	}
	return c.Record(evt)
}

func (c *counter) applyChange(evt event.DomainEvent) error {
	switch e := evt.(type) {
	case *incremented:
		c.total += e.By
	default:
		return fmt.Errorf("%w: %s", aggregate.ErrUnknownEventType, evt.EventType())
	}
	return nil
}

func TestRecord(t *testing.T) {
	t.Run("applies and buffers", func(t *testing.T) {
		c := newCounter(uuid.New())

		require.NoError(t, c.Increment(2))
		require.NoError(t, c.Increment(3))

		assert.Equal(t, 5, c.total)
		assert.Equal(t, 2, c.Version())
		assert.Len(t, c.UncommittedEvents(), 2)
	})

	t.Run("rejects out-of-sequence event", func(t *testing.T) {
		c := newCounter(uuid.New())
		stale := &incremented{
			BaseEvent: event.NewBaseEvent("counter.incremented", c.ID().String(), "Counter", 5, event.Metadata{}),
			By:        1,
		}

		err := c.Record(stale)
		require.ErrorIs(t, err, aggregate.ErrSequenceGap)
		assert.Equal(t, 0, c.Version())
		assert.Empty(t, c.UncommittedEvents())
	})

	t.Run("failed apply does not buffer", func(t *testing.T) {
		c := newCounter(uuid.New())
		unknown := event.NewRaw(
			event.NewBaseEvent("counter.exploded", c.ID().String(), "Counter", 1, event.Metadata{}),
			nil,
		)

		err := c.Record(unknown)
		require.ErrorIs(t, err, aggregate.ErrUnknownEventType)
		assert.Empty(t, c.UncommittedEvents())
	})
}

func TestMarkEventsAsCommitted(t *testing.T) {
	c := newCounter(uuid.New())
	require.NoError(t, c.Increment(1))

	c.MarkEventsAsCommitted()

	assert.Empty(t, c.UncommittedEvents())
	assert.Equal(t, 1, c.Version(), "version survives commit")
}

func TestReplay(t *testing.T) {
	t.Run("fold without buffering", func(t *testing.T) {
		src := newCounter(uuid.New())
		require.NoError(t, src.Increment(4))
		require.NoError(t, src.Increment(6))

		dst := newCounter(src.ID())
		require.NoError(t, dst.Replay(src.UncommittedEvents()))

		assert.Equal(t, 10, dst.total)
		assert.Equal(t, 2, dst.Version())
		assert.Empty(t, dst.UncommittedEvents())
	})

	t.Run("gap detected", func(t *testing.T) {
		src := newCounter(uuid.New())
		require.NoError(t, src.Increment(1))
		require.NoError(t, src.Increment(1))
		require.NoError(t, src.Increment(1))
		evts := src.UncommittedEvents()

		dst := newCounter(src.ID())
		err := dst.Replay([]event.DomainEvent{evts[0], evts[2]})
		require.ErrorIs(t, err, aggregate.ErrSequenceGap)
	})

	t.Run("duplicate detected", func(t *testing.T) {
		src := newCounter(uuid.New())
		require.NoError(t, src.Increment(1))
		evts := src.UncommittedEvents()

		dst := newCounter(src.ID())
		err := dst.Replay([]event.DomainEvent{evts[0], evts[0]})
		require.ErrorIs(t, err, aggregate.ErrSequenceGap)
	})

	t.Run("unknown event type surfaces", func(t *testing.T) {
		c := newCounter(uuid.New())
		raw := event.NewRaw(
			event.NewBaseEvent("counter.from_the_future", c.ID().String(), "Counter", 1, event.Metadata{}),
			map[string]any{"by": 1},
		)

		err := c.Replay([]event.DomainEvent{raw})
		require.ErrorIs(t, err, aggregate.ErrUnknownEventType)
	})
}

func TestRestore(t *testing.T) {
	c := newCounter(uuid.New())
	c.Restore(7)

	assert.Equal(t, 7, c.Version())
	assert.Equal(t, 8, c.NextVersion())
}
