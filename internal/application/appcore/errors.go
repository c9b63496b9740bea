// Package appcore declares the application-side ports (event store,
// outbox) and the shared error taxonomy. Interfaces live on the
// consumer side; infrastructure packages implement them.
package appcore

import "errors"

var (
	// ErrConcurrencyConflict is returned when a concurrent writer raced
	// on the same aggregate version. Recoverable: reload, reapply,
	// retry the save.
	ErrConcurrencyConflict = errors.New("concurrency conflict detected")

	// ErrAggregateNotFound is returned when neither a snapshot nor any
	// event exists for the requested aggregate id.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrStorageUnavailable wraps transient failures of the underlying
	// store. The store never retries on its own; callers own backoff.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidEventSequence signals a gap or duplicate version in a
	// stored stream. Data integrity is broken and the aggregate cannot
	// be reconstructed; not recoverable.
	ErrInvalidEventSequence = errors.New("invalid event sequence")

	// ErrSagaHandlerFailure marks a saga handler error while computing
	// follow-up events. The triggering event stays unacknowledged and
	// may be redelivered.
	ErrSagaHandlerFailure = errors.New("saga handler failure")

	// ErrInvalidVersion is returned for a negative or otherwise
	// nonsensical expected version.
	ErrInvalidVersion = errors.New("invalid version")
)
