package core

import "errors"

var (
	// ErrNotFound means no record matches the lookup.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a uniqueness constraint was violated, e.g. a
	// duplicate domain name racing past the existence pre-check.
	ErrConflict = errors.New("conflict")

	// ErrVersionConflict means an optimistic-concurrency update lost the
	// race against a concurrent writer of the same row.
	ErrVersionConflict = errors.New("version conflict")
)
