// Package uuid wraps github.com/google/uuid behind a small domain type
// so aggregate and event identifiers stay comparable string values.
package uuid

import (
	"github.com/google/uuid"
)

// UUID is a string-backed identifier.
type UUID string

// New generates a random (v4) UUID.
func New() UUID {
	return UUID(uuid.New().String())
}

// Parse validates s and returns it as a UUID.
func Parse(s string) (UUID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return UUID(s), nil
}

// MustParse parses s or panics. Intended for tests and constants.
func MustParse(s string) UUID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical string form.
func (u UUID) String() string {
	return string(u)
}

// IsZero reports whether the UUID is unset.
func (u UUID) IsZero() bool {
	return u == ""
}
