package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup by leaf index or root finds no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateLeaf is returned when an append tries to claim a leaf index
// that is already taken. Under correct sequencer use this cannot happen; it
// exists as a last-line invariant check backed by the unique index.
var ErrDuplicateLeaf = errors.New("leaf index already claimed")

// ErrDuplicateRoot is returned when a checkpoint insert collides with an
// existing root. Roots are cryptographically distinct for distinct prefixes,
// so a collision is an integrity fault and is never silently overwritten.
var ErrDuplicateRoot = errors.New("root already recorded")

// ErrInvalidTransition is returned when a status update is not legal from
// the checkpoint's current state, including mining confirmations that carry
// a timestamp earlier than one already recorded.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrIntegrity is returned when a checkpoint does not resolve to the exact
// identity row it claims to reference, or when the recorded state disagrees
// with the append sequence. It is fatal and never auto-corrected.
var ErrIntegrity = errors.New("checkpoint integrity violation")

// StorageError wraps a transient persistence failure. Appends that fail with
// a StorageError are safe to retry with the same commitment because the
// whole append is atomic and never partially visible.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a StorageError and is
// therefore safe to retry.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
