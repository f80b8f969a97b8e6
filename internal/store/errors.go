package store

import "errors"

// ErrNotFound is returned when a record does not exist, or when a
// conditional update found no row matching its predicate.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness rule.
var ErrConflict = errors.New("already exists")
