package merkletree

import (
	"fmt"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/idchain-labs/sequencer/internal/identity"
)

// ProofBuilder constructs RFC 6962 inclusion proofs over a materialised
// leaf set. The compact range only keeps the right-edge hashes, so proof
// construction rebuilds internal nodes from the full leaf sequence; callers
// load the leaves with a ledger scan before asking for proofs.
type ProofBuilder struct {
	hasher interface {
		HashLeaf(leaf []byte) []byte
		HashChildren(l, r []byte) []byte
	}
	leaves [][]byte
}

// NewProofBuilder creates a builder over the given commitment sequence,
// ordered by leaf index.
func NewProofBuilder(commitments []identity.Commitment) *ProofBuilder {
	h := rfc6962.DefaultHasher
	leaves := make([][]byte, len(commitments))
	for i, c := range commitments {
		leaves[i] = h.HashLeaf(c[:])
	}
	return &ProofBuilder{hasher: h, leaves: leaves}
}

// Size returns the number of leaves the builder covers.
func (pb *ProofBuilder) Size() uint64 { return uint64(len(pb.leaves)) }

// LeafHash returns the leaf hash at the given index.
func (pb *ProofBuilder) LeafHash(index uint64) ([]byte, error) {
	if index >= pb.Size() {
		return nil, fmt.Errorf("leaf index %d out of bounds for size %d", index, pb.Size())
	}
	return pb.leaves[index], nil
}

// Inclusion returns the inclusion proof for the leaf at index, suitable for
// verification against the root over all covered leaves.
func (pb *ProofBuilder) Inclusion(index uint64) ([][]byte, error) {
	nodes, err := proof.Inclusion(index, pb.Size())
	if err != nil {
		return nil, fmt.Errorf("enumerate proof nodes: %w", err)
	}
	hashes := make([][]byte, 0, len(nodes.IDs))
	for _, id := range nodes.IDs {
		hashes = append(hashes, pb.nodeHash(id))
	}
	ret, err := nodes.Rehash(hashes, pb.hasher.HashChildren)
	if err != nil {
		return nil, fmt.Errorf("rehash proof: %w", err)
	}
	return ret, nil
}

// nodeHash computes the hash of an internal node from the stored leaf
// hashes. The node at (level, index) covers leaves [index<<level,
// (index+1)<<level); Inclusion only lists nodes fully inside the tree, so
// the recursion never runs past the leaf sequence.
func (pb *ProofBuilder) nodeHash(id compact.NodeID) []byte {
	if id.Level == 0 {
		return pb.leaves[id.Index]
	}
	left := pb.nodeHash(compact.NewNodeID(id.Level-1, 2*id.Index))
	right := pb.nodeHash(compact.NewNodeID(id.Level-1, 2*id.Index+1))
	return pb.hasher.HashChildren(left, right)
}
