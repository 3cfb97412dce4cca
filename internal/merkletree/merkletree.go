// Package merkletree provides the tree-hashing collaborator: an incremental
// accumulator that turns the identity sequence into a root value.
//
// The default implementation is an RFC 6962 Merkle tree maintained as a
// compact range, so each append costs O(log n) hashes and no full tree is
// kept in memory.
package merkletree

import (
	"fmt"

	"github.com/transparency-dev/merkle"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/idchain-labs/sequencer/internal/identity"
)

// Accumulator computes the running root over the identity sequence. It is
// not safe for concurrent use; the sequencer serialises all access.
type Accumulator interface {
	// Size returns the number of appended leaves.
	Size() uint64

	// Root returns the root over the current leaves.
	Root() (identity.Root, error)

	// RootAfter returns the root the tree would have after appending c,
	// without mutating the accumulator. The sequencer uses this to compute
	// the checkpoint root before the durable write commits.
	RootAfter(c identity.Commitment) (identity.Root, error)

	// Append commits c as the next leaf.
	Append(c identity.Commitment) error
}

// CompactTree is the RFC 6962 Accumulator implementation.
type CompactTree struct {
	hasher merkle.LogHasher
	rf     *compact.RangeFactory
	rng    *compact.Range
}

// NewCompactTree creates an empty accumulator using the RFC 6962 SHA-256
// hashing scheme.
func NewCompactTree() *CompactTree {
	h := rfc6962.DefaultHasher
	rf := &compact.RangeFactory{Hash: h.HashChildren}
	return &CompactTree{hasher: h, rf: rf, rng: rf.NewEmptyRange(0)}
}

// Size implements Accumulator.
func (t *CompactTree) Size() uint64 { return t.rng.End() }

// Root implements Accumulator.
func (t *CompactTree) Root() (identity.Root, error) {
	return t.rootOf(t.rng)
}

// RootAfter implements Accumulator.
func (t *CompactTree) RootAfter(c identity.Commitment) (identity.Root, error) {
	// Work on a deep copy: Range.Append rewrites stored hashes in place.
	hashes := t.rng.Hashes()
	cloned := make([][]byte, len(hashes))
	for i, h := range hashes {
		cloned[i] = append([]byte(nil), h...)
	}
	tmp, err := t.rf.NewRange(0, t.rng.End(), cloned)
	if err != nil {
		return identity.Root{}, fmt.Errorf("clone range: %w", err)
	}
	if err := tmp.Append(t.hasher.HashLeaf(c[:]), nil); err != nil {
		return identity.Root{}, fmt.Errorf("append leaf: %w", err)
	}
	return t.rootOf(tmp)
}

// Append implements Accumulator.
func (t *CompactTree) Append(c identity.Commitment) error {
	return t.rng.Append(t.hasher.HashLeaf(c[:]), nil)
}

func (t *CompactTree) rootOf(r *compact.Range) (identity.Root, error) {
	if r.End() == 0 {
		return rootFromHash(t.hasher.EmptyRoot())
	}
	h, err := r.GetRootHash(nil)
	if err != nil {
		return identity.Root{}, fmt.Errorf("compute root: %w", err)
	}
	return rootFromHash(h)
}

func rootFromHash(h []byte) (identity.Root, error) {
	var r identity.Root
	if len(h) != identity.Size {
		return r, fmt.Errorf("unexpected root length %d", len(h))
	}
	copy(r[:], h)
	return r, nil
}
