package eventstore

import (
	"slices"
	"sync"

	"github.com/eventfold/eventfold/internal/application/appcore"
	"github.com/eventfold/eventfold/internal/domain/event"
)

// Notifier is the per-store subscription registry. Subscriptions have
// bounded lifetimes: Subscribe returns the matching unsubscribe func,
// and nothing is registered globally.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[uint64]appcore.Subscriber
	nextID uint64
}

// NewNotifier creates an empty registry.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]appcore.Subscriber)}
}

// Subscribe registers fn and returns its unsubscribe func. Calling
// unsubscribe more than once is harmless.
func (n *Notifier) Subscribe(fn appcore.Subscriber) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Publish delivers evt to every current subscriber, in subscription
// order for a single call. The store invokes Publish sequentially per
// committed event, which yields per-aggregate ordering; there is no
// global order across aggregates.
func (n *Notifier) Publish(evt event.DomainEvent) {
	n.mu.RLock()
	ids := make([]uint64, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]appcore.Subscriber, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.subs[id])
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
