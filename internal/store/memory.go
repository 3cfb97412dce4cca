package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/idchain-labs/sequencer/internal/identity"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It enforces
// the same invariants as PostgresStore through explicit checks performed
// under its lock, inside the same critical section as the write.
type MemoryStore struct {
	mu          sync.RWMutex
	identities  []identity.Commitment
	checkpoints map[identity.Root]*identity.RootCheckpoint
	byCount     map[uint64]identity.Root
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[identity.Root]*identity.RootCheckpoint),
		byCount:     make(map[uint64]identity.Root),
	}
}

// Append implements IdentityLedger.
func (s *MemoryStore) Append(_ context.Context, c identity.Commitment) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := uint64(len(s.identities))
	s.identities = append(s.identities, c)
	return idx, nil
}

// GetIdentity implements IdentityLedger.
func (s *MemoryStore) GetIdentity(_ context.Context, leafIndex uint64) (identity.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if leafIndex >= uint64(len(s.identities)) {
		return identity.Commitment{}, ErrNotFound
	}
	return s.identities[leafIndex], nil
}

// Count implements IdentityLedger.
func (s *MemoryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.identities)), nil
}

// Scan implements IdentityLedger.
func (s *MemoryStore) Scan(_ context.Context, begin uint64, fn func(uint64, identity.Commitment) error) (uint64, error) {
	s.mu.RLock()
	snapshot := make([]identity.Commitment, len(s.identities))
	copy(snapshot, s.identities)
	s.mu.RUnlock()

	var visited uint64
	for i := begin; i < uint64(len(snapshot)); i++ {
		if err := fn(i, snapshot[i]); err != nil {
			return visited, err
		}
		visited++
	}
	return visited, nil
}

// Insert implements RootRegistry.
func (s *MemoryStore) Insert(_ context.Context, cp *identity.RootCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReference(cp); err != nil {
		return err
	}
	s.put(cp)
	return nil
}

// AppendPair implements Store. All checks run before any mutation, so a
// rejected pair leaves no partial state.
func (s *MemoryStore) AppendPair(_ context.Context, id identity.Identity, cp *identity.RootCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := uint64(len(s.identities))
	if id.LeafIndex < next {
		return ErrDuplicateLeaf
	}
	if id.LeafIndex > next {
		return ErrIntegrity
	}
	if cp.LastIdentity != id.Commitment || cp.LastLeafIndex != id.LeafIndex || cp.IdentityCount != id.LeafIndex+1 {
		return ErrIntegrity
	}
	if !cp.Status.Valid() {
		return ErrIntegrity
	}
	if _, ok := s.checkpoints[cp.Root]; ok {
		return ErrDuplicateRoot
	}
	if _, ok := s.byCount[cp.IdentityCount]; ok {
		return ErrIntegrity
	}

	s.identities = append(s.identities, id.Commitment)
	s.put(cp)
	return nil
}

// UpdateStatus implements RootRegistry.
func (s *MemoryStore) UpdateStatus(_ context.Context, root identity.Root, newStatus identity.Status, minedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[root]
	if !ok {
		return ErrNotFound
	}
	return applyTransition(cp, newStatus, minedAt)
}

// GetCheckpoint implements RootRegistry.
func (s *MemoryStore) GetCheckpoint(_ context.Context, root identity.Root) (*identity.RootCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[root]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCheckpoint(cp), nil
}

// LatestCheckpoint implements RootRegistry.
func (s *MemoryStore) LatestCheckpoint(_ context.Context) (*identity.RootCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *identity.RootCheckpoint
	for _, cp := range s.checkpoints {
		if latest == nil || cp.IdentityCount > latest.IdentityCount {
			latest = cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyCheckpoint(latest), nil
}

// ListByStatus implements RootRegistry.
func (s *MemoryStore) ListByStatus(_ context.Context, status identity.Status) ([]*identity.RootCheckpoint, error) {
	if !status.Valid() {
		return nil, ErrInvalidTransition
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*identity.RootCheckpoint
	for _, cp := range s.checkpoints {
		if cp.Status == status {
			out = append(out, copyCheckpoint(cp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityCount < out[j].IdentityCount })
	return out, nil
}

// Verify implements Store.
func (s *MemoryStore) Verify(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cp := range s.checkpoints {
		if cp.LastLeafIndex >= uint64(len(s.identities)) {
			return ErrIntegrity
		}
		if s.identities[cp.LastLeafIndex] != cp.LastIdentity {
			return ErrIntegrity
		}
		if cp.IdentityCount != cp.LastLeafIndex+1 {
			return ErrIntegrity
		}
	}
	return nil
}

// checkReference validates a standalone Insert against the current ledger.
// Callers must hold the write lock.
func (s *MemoryStore) checkReference(cp *identity.RootCheckpoint) error {
	if _, ok := s.checkpoints[cp.Root]; ok {
		return ErrDuplicateRoot
	}
	if cp.LastLeafIndex >= uint64(len(s.identities)) {
		return ErrIntegrity
	}
	if s.identities[cp.LastLeafIndex] != cp.LastIdentity {
		return ErrIntegrity
	}
	if cp.IdentityCount != cp.LastLeafIndex+1 {
		return ErrIntegrity
	}
	if _, ok := s.byCount[cp.IdentityCount]; ok {
		return ErrIntegrity
	}
	if !cp.Status.Valid() {
		return ErrIntegrity
	}
	return nil
}

func (s *MemoryStore) put(cp *identity.RootCheckpoint) {
	stored := copyCheckpoint(cp)
	s.checkpoints[stored.Root] = stored
	s.byCount[stored.IdentityCount] = stored.Root
}

// applyTransition enforces the status state machine on cp in place.
func applyTransition(cp *identity.RootCheckpoint, newStatus identity.Status, minedAt time.Time) error {
	if newStatus != identity.StatusMined {
		return ErrInvalidTransition
	}
	switch cp.Status {
	case identity.StatusPending:
		cp.Status = identity.StatusMined
		t := minedAt.UTC()
		cp.MinedAt = &t
		return nil
	case identity.StatusMined:
		// Idempotent confirmation: a repeat with the same or a later
		// timestamp is a no-op; an earlier timestamp is illegal.
		if cp.MinedAt != nil && minedAt.Before(*cp.MinedAt) {
			return ErrInvalidTransition
		}
		return nil
	}
	return ErrInvalidTransition
}

func copyCheckpoint(cp *identity.RootCheckpoint) *identity.RootCheckpoint {
	out := *cp
	if cp.MinedAt != nil {
		t := *cp.MinedAt
		out.MinedAt = &t
	}
	return &out
}
