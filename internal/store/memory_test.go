package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/idchain-labs/sequencer/internal/identity"
	"github.com/idchain-labs/sequencer/internal/store"
)

var ctx = context.Background()

func commitment(b byte) identity.Commitment {
	var c identity.Commitment
	c[0] = b
	return c
}

func root(b byte) identity.Root {
	var r identity.Root
	r[31] = b
	return r
}

func checkpoint(rt identity.Root, c identity.Commitment, leafIndex uint64) *identity.RootCheckpoint {
	return &identity.RootCheckpoint{
		Root:          rt,
		LastIdentity:  c,
		LastLeafIndex: leafIndex,
		IdentityCount: leafIndex + 1,
		Status:        identity.StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func appendPair(t *testing.T, s *store.MemoryStore, rt identity.Root, c identity.Commitment, leafIndex uint64) {
	t.Helper()
	id := identity.Identity{Commitment: c, LeafIndex: leafIndex}
	if err := s.AppendPair(ctx, id, checkpoint(rt, c, leafIndex)); err != nil {
		t.Fatalf("AppendPair(%d): %v", leafIndex, err)
	}
}

func TestAppend_denseIndexes(t *testing.T) {
	s := store.NewMemoryStore()

	for i := byte(0); i < 5; i++ {
		idx, err := s.Append(ctx, commitment(i))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if idx != uint64(i) {
			t.Errorf("leaf index: got %d, want %d", idx, i)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("Count: got %d, want 5", n)
	}
}

func TestGetIdentity_notFound(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := s.GetIdentity(ctx, 0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendPair_rejectsStaleIndex(t *testing.T) {
	s := store.NewMemoryStore()
	appendPair(t, s, root(1), commitment(1), 0)

	// A second writer trying to claim index 0 again.
	id := identity.Identity{Commitment: commitment(2), LeafIndex: 0}
	err := s.AppendPair(ctx, id, checkpoint(root(2), commitment(2), 0))
	if !errors.Is(err, store.ErrDuplicateLeaf) {
		t.Errorf("expected ErrDuplicateLeaf, got %v", err)
	}

	// Nothing from the failed pair may survive.
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count after rejected pair: got %d, want 1", n)
	}
	if _, err := s.GetCheckpoint(ctx, root(2)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("checkpoint from rejected pair exists: %v", err)
	}
}

func TestAppendPair_rejectsGap(t *testing.T) {
	s := store.NewMemoryStore()
	id := identity.Identity{Commitment: commitment(1), LeafIndex: 3}
	err := s.AppendPair(ctx, id, checkpoint(root(1), commitment(1), 3))
	if !errors.Is(err, store.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestAppendPair_rejectsMismatchedCheckpoint(t *testing.T) {
	s := store.NewMemoryStore()
	id := identity.Identity{Commitment: commitment(1), LeafIndex: 0}

	// Checkpoint references a different commitment than the appended row.
	cp := checkpoint(root(1), commitment(9), 0)
	if err := s.AppendPair(ctx, id, cp); !errors.Is(err, store.ErrIntegrity) {
		t.Errorf("mismatched commitment: expected ErrIntegrity, got %v", err)
	}

	// Checkpoint count does not match the leaf index.
	cp = checkpoint(root(1), commitment(1), 0)
	cp.IdentityCount = 7
	if err := s.AppendPair(ctx, id, cp); !errors.Is(err, store.ErrIntegrity) {
		t.Errorf("wrong count: expected ErrIntegrity, got %v", err)
	}
}

func TestAppendPair_duplicateRoot(t *testing.T) {
	s := store.NewMemoryStore()
	appendPair(t, s, root(1), commitment(1), 0)

	id := identity.Identity{Commitment: commitment(2), LeafIndex: 1}
	err := s.AppendPair(ctx, id, checkpoint(root(1), commitment(2), 1))
	if !errors.Is(err, store.ErrDuplicateRoot) {
		t.Errorf("expected ErrDuplicateRoot, got %v", err)
	}
}

func TestInsert_checksReference(t *testing.T) {
	s := store.NewMemoryStore()
	appendPair(t, s, root(1), commitment(1), 0)

	// References an identity that was never appended.
	err := s.Insert(ctx, checkpoint(root(2), commitment(9), 5))
	if !errors.Is(err, store.ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}

	// Reuses an already checkpointed identity count.
	err = s.Insert(ctx, checkpoint(root(3), commitment(1), 0))
	if !errors.Is(err, store.ErrIntegrity) {
		t.Errorf("reused count: expected ErrIntegrity, got %v", err)
	}
}

func TestUpdateStatus_stateMachine(t *testing.T) {
	s := store.NewMemoryStore()
	appendPair(t, s, root(1), commitment(1), 0)

	t1 := time.Now().UTC()
	if err := s.UpdateStatus(ctx, root(1), identity.StatusMined, t1); err != nil {
		t.Fatalf("pending->mined: %v", err)
	}

	cp, err := s.GetCheckpoint(ctx, root(1))
	if err != nil {
		t.Fatal(err)
	}
	if cp.Status != identity.StatusMined {
		t.Errorf("status: got %s, want mined", cp.Status)
	}
	if cp.MinedAt == nil || !cp.MinedAt.Equal(t1) {
		t.Errorf("mined_at not recorded: %v", cp.MinedAt)
	}

	// Repeat with the same timestamp: no-op success.
	if err := s.UpdateStatus(ctx, root(1), identity.StatusMined, t1); err != nil {
		t.Errorf("repeat confirmation: %v", err)
	}

	// Later timestamp: still a no-op, mined_at unchanged.
	if err := s.UpdateStatus(ctx, root(1), identity.StatusMined, t1.Add(time.Minute)); err != nil {
		t.Errorf("later confirmation: %v", err)
	}
	cp, _ = s.GetCheckpoint(ctx, root(1))
	if !cp.MinedAt.Equal(t1) {
		t.Errorf("mined_at changed on repeat: %v", cp.MinedAt)
	}

	// Earlier timestamp: illegal.
	err = s.UpdateStatus(ctx, root(1), identity.StatusMined, t1.Add(-time.Minute))
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("earlier timestamp: expected ErrInvalidTransition, got %v", err)
	}

	// Backward to pending: illegal.
	err = s.UpdateStatus(ctx, root(1), identity.StatusPending, t1)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("mined->pending: expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateStatus_unknownRoot(t *testing.T) {
	s := store.NewMemoryStore()
	err := s.UpdateStatus(ctx, root(1), identity.StatusMined, time.Now())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestCheckpoint(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := s.LatestCheckpoint(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("empty registry: expected ErrNotFound, got %v", err)
	}

	appendPair(t, s, root(1), commitment(1), 0)
	appendPair(t, s, root(2), commitment(2), 1)

	latest, err := s.LatestCheckpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Root != root(2) || latest.IdentityCount != 2 {
		t.Errorf("latest: got root %s count %d", latest.Root, latest.IdentityCount)
	}
}

func TestListByStatus_ordered(t *testing.T) {
	s := store.NewMemoryStore()
	appendPair(t, s, root(1), commitment(1), 0)
	appendPair(t, s, root(2), commitment(2), 1)
	appendPair(t, s, root(3), commitment(3), 2)

	if err := s.UpdateStatus(ctx, root(2), identity.StatusMined, time.Now()); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListByStatus(ctx, identity.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending: got %d, want 2", len(pending))
	}
	if pending[0].Root != root(1) || pending[1].Root != root(3) {
		t.Errorf("pending not ordered by count: %s, %s", pending[0].Root, pending[1].Root)
	}

	mined, err := s.ListByStatus(ctx, identity.StatusMined)
	if err != nil {
		t.Fatal(err)
	}
	if len(mined) != 1 || mined[0].Root != root(2) {
		t.Errorf("mined: got %d entries", len(mined))
	}
}

func TestScan_fromOffset(t *testing.T) {
	s := store.NewMemoryStore()
	for i := byte(0); i < 4; i++ {
		appendPair(t, s, root(i+1), commitment(i), uint64(i))
	}

	var seen []uint64
	n, err := s.Scan(ctx, 2, func(idx uint64, c identity.Commitment) error {
		if c != commitment(byte(idx)) {
			t.Errorf("commitment mismatch at %d", idx)
		}
		seen = append(seen, idx)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(seen) != 2 || seen[0] != 2 || seen[1] != 3 {
		t.Errorf("scan from 2: visited %v", seen)
	}
}

func TestVerify_cleanStore(t *testing.T) {
	s := store.NewMemoryStore()
	appendPair(t, s, root(1), commitment(1), 0)
	appendPair(t, s, root(2), commitment(2), 1)

	if err := s.Verify(ctx); err != nil {
		t.Errorf("Verify on consistent store: %v", err)
	}
}

func TestGetCheckpoint_returnsCopy(t *testing.T) {
	s := store.NewMemoryStore()
	appendPair(t, s, root(1), commitment(1), 0)

	cp, _ := s.GetCheckpoint(ctx, root(1))
	cp.Status = identity.StatusMined

	fresh, _ := s.GetCheckpoint(ctx, root(1))
	if fresh.Status != identity.StatusPending {
		t.Error("mutating a returned checkpoint leaked into the store")
	}
}
