package sequencer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/idchain-labs/sequencer/internal/identity"
	"github.com/idchain-labs/sequencer/internal/store"
)

// MiningCoordinator accepts external confirmations that a root has been
// durably published and transitions its checkpoint to mined.
//
// MarkMined is safe to call concurrently; the legality check and the update
// run as one atomic compare-and-update in the registry, so two racing
// confirmations for the same root cannot both observe pending.
type MiningCoordinator struct {
	registry store.RootRegistry
	logger   *zap.Logger
}

// NewMiningCoordinator creates a MiningCoordinator over the given registry.
func NewMiningCoordinator(registry store.RootRegistry, logger *zap.Logger) *MiningCoordinator {
	return &MiningCoordinator{registry: registry, logger: logger}
}

// MarkMined records the external publication of root at minedAt. Repeating a
// confirmation with the same or a later timestamp is a no-op; an earlier
// timestamp fails with ErrInvalidTransition. A zero minedAt defaults to now.
func (m *MiningCoordinator) MarkMined(ctx context.Context, root identity.Root, minedAt time.Time) error {
	if minedAt.IsZero() {
		minedAt = time.Now().UTC()
	}
	if err := m.registry.UpdateStatus(ctx, root, identity.StatusMined, minedAt); err != nil {
		return err
	}
	m.logger.Info("root mined",
		zap.String("root", root.String()),
		zap.Time("mined_at", minedAt),
	)
	return nil
}

// Pending lists checkpoints still awaiting mining confirmation, oldest
// first. Mining notifiers poll this to discover work.
func (m *MiningCoordinator) Pending(ctx context.Context) ([]*identity.RootCheckpoint, error) {
	return m.registry.ListByStatus(ctx, identity.StatusPending)
}
