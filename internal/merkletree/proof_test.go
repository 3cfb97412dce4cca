package merkletree_test

import (
	"testing"

	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/idchain-labs/sequencer/internal/identity"
	"github.com/idchain-labs/sequencer/internal/merkletree"
)

func TestInclusion_verifiesAgainstTreeRoot(t *testing.T) {
	hasher := rfc6962.DefaultHasher

	// Exercise every (size, index) pair across perfect and ragged trees.
	for size := 1; size <= 9; size++ {
		commitments := make([]identity.Commitment, size)
		tree := merkletree.NewCompactTree()
		for i := range commitments {
			commitments[i] = commitment(byte(i + 1))
			if err := tree.Append(commitments[i]); err != nil {
				t.Fatal(err)
			}
		}
		root, err := tree.Root()
		if err != nil {
			t.Fatal(err)
		}

		pb := merkletree.NewProofBuilder(commitments)
		if pb.Size() != uint64(size) {
			t.Fatalf("size %d: builder reports %d leaves", size, pb.Size())
		}
		for idx := uint64(0); idx < uint64(size); idx++ {
			p, err := pb.Inclusion(idx)
			if err != nil {
				t.Fatalf("size %d index %d: %v", size, idx, err)
			}
			leafHash, err := pb.LeafHash(idx)
			if err != nil {
				t.Fatal(err)
			}
			if err := proof.VerifyInclusion(hasher, idx, uint64(size), leafHash, p, root[:]); err != nil {
				t.Errorf("size %d index %d: proof does not verify: %v", size, idx, err)
			}
		}
	}
}

func TestInclusion_rejectsWrongRoot(t *testing.T) {
	commitments := []identity.Commitment{commitment(1), commitment(2), commitment(3)}
	pb := merkletree.NewProofBuilder(commitments)

	p, err := pb.Inclusion(1)
	if err != nil {
		t.Fatal(err)
	}
	leafHash, err := pb.LeafHash(1)
	if err != nil {
		t.Fatal(err)
	}

	var bogus [32]byte
	bogus[0] = 0xff
	if err := proof.VerifyInclusion(rfc6962.DefaultHasher, 1, 3, leafHash, p, bogus[:]); err == nil {
		t.Error("proof verified against an unrelated root")
	}
}

func TestInclusion_outOfBounds(t *testing.T) {
	pb := merkletree.NewProofBuilder([]identity.Commitment{commitment(1)})
	if _, err := pb.Inclusion(1); err == nil {
		t.Error("expected error for index beyond tree size")
	}
	if _, err := pb.LeafHash(5); err == nil {
		t.Error("expected error for leaf hash beyond tree size")
	}
}
