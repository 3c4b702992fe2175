package store

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrExists is returned when creating an entity under a key that is
	// already taken. Deterministic keys rely on this for idempotent
	// re-execution: the second delivery of the same job observes ErrExists
	// and no-ops.
	ErrExists = errors.New("entity already exists")

	// ErrConflict is returned when a revision-checked update lost a race
	// with a concurrent writer.
	ErrConflict = errors.New("revision conflict")
)
