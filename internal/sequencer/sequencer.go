// Package sequencer implements the root-checkpoint tracker: the single
// writer that grows the identity sequence, computes the root after each
// append, and records checkpoints, plus the coordinator for external mining
// confirmations.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/idchain-labs/sequencer/internal/identity"
	"github.com/idchain-labs/sequencer/internal/merkletree"
	"github.com/idchain-labs/sequencer/internal/store"
)

// ErrHalted is returned by AppendIdentity after an integrity violation has
// been detected. A halted sequencer serves reads but refuses appends until
// the underlying state has been investigated.
var ErrHalted = errors.New("sequencer halted: integrity violation pending investigation")

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithBackOff overrides the retry policy used for transient storage
// failures during append. The factory is invoked once per append.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(s *Sequencer) { s.newBackOff = factory }
}

// Sequencer is the only component allowed to grow the identity sequence and
// mint root checkpoints. All appends are serialised on an internal mutex;
// the store's advisory lock is the last line of defence across processes.
type Sequencer struct {
	mu         sync.Mutex
	store      store.Store
	tree       merkletree.Accumulator
	logger     *zap.Logger
	halted     atomic.Bool
	newBackOff func() backoff.BackOff
}

// New creates a Sequencer over the given store and accumulator. Call
// Restore before the first append so the accumulator reflects the
// persisted ledger.
func New(st store.Store, tree merkletree.Accumulator, logger *zap.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		store:      st,
		tree:       tree,
		logger:     logger,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return bo
}

// AppendIdentity appends the commitment as the next leaf, computes the new
// root, and records a pending checkpoint. The identity row and checkpoint
// are written as one atomic unit; transient storage failures are retried
// with the same commitment.
func (s *Sequencer) AppendIdentity(ctx context.Context, c identity.Commitment) (*identity.RootCheckpoint, error) {
	if s.halted.Load() {
		return nil, ErrHalted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted.Load() {
		return nil, ErrHalted
	}

	var cp *identity.RootCheckpoint
	op := func() error {
		count, err := s.store.Count(ctx)
		if err != nil {
			return retryable(err)
		}
		if count != s.tree.Size() {
			return backoff.Permanent(fmt.Errorf(
				"%w: ledger holds %d identities but tree has %d leaves",
				store.ErrIntegrity, count, s.tree.Size()))
		}

		root, err := s.tree.RootAfter(c)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("compute root: %w", err))
		}

		candidate := &identity.RootCheckpoint{
			Root:          root,
			LastIdentity:  c,
			LastLeafIndex: count,
			IdentityCount: count + 1,
			Status:        identity.StatusPending,
			CreatedAt:     time.Now().UTC(),
		}
		id := identity.Identity{Commitment: c, LeafIndex: count}
		if err := s.store.AppendPair(ctx, id, candidate); err != nil {
			return retryable(err)
		}
		cp = candidate
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		if errors.Is(err, store.ErrIntegrity) {
			s.halt(err)
		}
		return nil, err
	}

	// The pair is durable; advance the in-memory tree to match.
	if err := s.tree.Append(c); err != nil {
		err = fmt.Errorf("%w: tree diverged from ledger after commit: %v", store.ErrIntegrity, err)
		s.halt(err)
		return nil, err
	}

	s.logger.Debug("checkpoint recorded",
		zap.Uint64("leaf_index", cp.LastLeafIndex),
		zap.String("root", cp.Root.String()),
	)
	return cp, nil
}

// Restore replays persisted identities into the accumulator and cross-checks
// the result against the latest recorded checkpoint. On mismatch the
// sequencer halts and surfaces the integrity violation.
func (s *Sequencer) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replayed, err := s.store.Scan(ctx, s.tree.Size(), func(idx uint64, c identity.Commitment) error {
		if idx != s.tree.Size() {
			return fmt.Errorf("%w: gap in leaf sequence at index %d", store.ErrIntegrity, idx)
		}
		return s.tree.Append(c)
	})
	if err != nil {
		if errors.Is(err, store.ErrIntegrity) {
			s.halt(err)
		}
		return fmt.Errorf("replay identities: %w", err)
	}

	latest, err := s.store.LatestCheckpoint(ctx)
	if errors.Is(err, store.ErrNotFound) {
		if s.tree.Size() != 0 {
			err := fmt.Errorf("%w: %d identities but no checkpoint recorded", store.ErrIntegrity, s.tree.Size())
			s.halt(err)
			return err
		}
		s.logger.Info("restored empty sequence")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read latest checkpoint: %w", err)
	}

	if latest.IdentityCount != s.tree.Size() {
		err := fmt.Errorf("%w: latest checkpoint covers %d identities but ledger has %d",
			store.ErrIntegrity, latest.IdentityCount, s.tree.Size())
		s.halt(err)
		return err
	}
	root, err := s.tree.Root()
	if err != nil {
		return fmt.Errorf("recompute root: %w", err)
	}
	if root != latest.Root {
		err := fmt.Errorf("%w: recomputed root %s does not match recorded root %s",
			store.ErrIntegrity, root, latest.Root)
		s.halt(err)
		return err
	}

	s.logger.Info("sequence restored",
		zap.Uint64("identities", s.tree.Size()),
		zap.Uint64("replayed", replayed),
		zap.String("root", root.String()),
	)
	return nil
}

// Halted reports whether appends are refused after an integrity violation.
func (s *Sequencer) Halted() bool { return s.halted.Load() }

func (s *Sequencer) halt(err error) {
	if s.halted.CompareAndSwap(false, true) {
		s.logger.Error("halting sequencer", zap.Error(err))
	}
}

// retryable passes transient storage errors through to the retry loop and
// marks everything else permanent.
func retryable(err error) error {
	if store.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}
