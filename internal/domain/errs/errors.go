// Package errs holds domain-level sentinel errors.
package errs

import "errors"

var (
	// ErrNotFound is returned when an aggregate does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when creating an aggregate that was
	// already created.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput is returned when input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState is returned when an operation is not valid for
	// the aggregate's current state.
	ErrInvalidState = errors.New("invalid aggregate state")

	// ErrInvalidTransition is returned on an illegal state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConcurrentModification is returned when a save lost an
	// optimistic concurrency race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)
