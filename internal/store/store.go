// Package store persists the identity ledger and the root checkpoint
// registry.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and single-process deployments.
//   - PostgresStore: durable, for production use.
package store

import (
	"context"
	"time"

	"github.com/idchain-labs/sequencer/internal/identity"
)

// IdentityLedger is the append-only store of (commitment, leaf_index) pairs.
// Leaf indexes are dense, zero-based, and assigned in append order. No row
// is ever updated or removed.
type IdentityLedger interface {
	// Append assigns the next leaf index to the commitment and durably
	// stores the pair, returning the assigned index. Returns
	// ErrDuplicateLeaf if a concurrent writer already claimed the index.
	Append(ctx context.Context, c identity.Commitment) (uint64, error)

	// GetIdentity returns the commitment at the given leaf index.
	GetIdentity(ctx context.Context, leafIndex uint64) (identity.Commitment, error)

	// Count returns the number of appended identities.
	Count(ctx context.Context) (uint64, error)

	// Scan calls fn for each identity with leaf index >= begin, in index
	// order, and returns the number of rows visited. Scanning stops at the
	// first error from fn.
	Scan(ctx context.Context, begin uint64, fn func(leafIndex uint64, c identity.Commitment) error) (uint64, error)
}

// RootRegistry is the store of root checkpoints. Rows are immutable except
// for the status and mined_at fields.
type RootRegistry interface {
	// Insert records a new checkpoint. Returns ErrDuplicateRoot if the root
	// already exists and ErrIntegrity if the checkpoint does not reference
	// an existing identity row or reuses an identity count.
	Insert(ctx context.Context, cp *identity.RootCheckpoint) error

	// UpdateStatus transitions the checkpoint's status using an atomic
	// compare-and-update against the current state.
	//
	// For the pending->mined transition, minedAt is recorded. Confirming an
	// already-mined root again is a no-op when minedAt is not earlier than
	// the recorded timestamp, and ErrInvalidTransition when it is. Any
	// transition out of mined is ErrInvalidTransition.
	UpdateStatus(ctx context.Context, root identity.Root, newStatus identity.Status, minedAt time.Time) error

	// GetCheckpoint returns the checkpoint for the given root.
	GetCheckpoint(ctx context.Context, root identity.Root) (*identity.RootCheckpoint, error)

	// LatestCheckpoint returns the checkpoint with the highest identity
	// count, or ErrNotFound when no checkpoint has been recorded.
	LatestCheckpoint(ctx context.Context) (*identity.RootCheckpoint, error)

	// ListByStatus returns all checkpoints in the given status, ordered by
	// identity count ascending.
	ListByStatus(ctx context.Context, status identity.Status) ([]*identity.RootCheckpoint, error)
}

// Store combines the identity ledger and root registry over one backing
// store, so that the identity row and its checkpoint can be written as a
// single atomic unit.
type Store interface {
	IdentityLedger
	RootRegistry

	// AppendPair writes the identity row and its checkpoint such that
	// either both persist or neither does. The checkpoint must reference
	// the identity being appended.
	AppendPair(ctx context.Context, id identity.Identity, cp *identity.RootCheckpoint) error

	// Verify walks the recorded state and checks the core invariants:
	// leaf indexes are dense with no gaps, and every checkpoint resolves
	// to an existing identity row. Returns ErrIntegrity on violation.
	Verify(ctx context.Context) error
}
