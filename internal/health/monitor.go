// Package health runs periodic integrity checks over the persisted
// identity ledger and checkpoint registry.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/idchain-labs/sequencer/internal/identity"
)

// Config holds integrity monitor configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	FailThreshold int
}

// Verifier walks the persisted state and reports whether the ledger and
// registry invariants hold.
type Verifier interface {
	Verify(ctx context.Context) error
}

// StatusLister lists checkpoints by mining status.
type StatusLister interface {
	ListByStatus(ctx context.Context, status identity.Status) ([]*identity.RootCheckpoint, error)
}

// GaugeFunc is an optional callback for publishing per-status checkpoint
// counts.
type GaugeFunc func(status string, count float64)

// ViolationFunc is an optional callback invoked when verification keeps
// failing past the configured threshold.
type ViolationFunc func(err error)

// Monitor periodically verifies storage invariants and refreshes checkpoint
// gauges.
type Monitor struct {
	verifier Verifier
	lister   StatusLister
	cfg      Config

	mu        sync.Mutex
	failCount int

	onGauge     GaugeFunc
	onViolation ViolationFunc
	logger      *zap.Logger
}

// New creates a new Monitor.
func New(verifier Verifier, lister StatusLister, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Monitor{
		verifier: verifier,
		lister:   lister,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetGauge configures the gauge publishing callback.
func (m *Monitor) SetGauge(fn GaugeFunc) {
	m.onGauge = fn
}

// SetViolation configures the violation callback.
func (m *Monitor) SetViolation(fn ViolationFunc) {
	m.onViolation = fn
}

// Start runs the check loop until done is closed.
func (m *Monitor) Start(done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckTimeout)
			m.Check(ctx)
			cancel()
		case <-done:
			return
		}
	}
}

// Check runs one verification pass and refreshes the checkpoint gauges.
func (m *Monitor) Check(ctx context.Context) {
	if err := m.verifier.Verify(ctx); err != nil {
		m.mu.Lock()
		m.failCount++
		count := m.failCount
		m.mu.Unlock()

		m.logger.Warn("integrity check failed",
			zap.Error(err),
			zap.Int("fail_count", count),
		)
		// Fire the violation hook at the threshold exactly once per streak.
		if count == m.cfg.FailThreshold && m.onViolation != nil {
			m.onViolation(err)
		}
		return
	}

	m.mu.Lock()
	recovered := m.failCount >= m.cfg.FailThreshold
	m.failCount = 0
	m.mu.Unlock()
	if recovered {
		m.logger.Info("integrity check recovered")
	}

	if m.onGauge == nil {
		return
	}
	for _, status := range []identity.Status{identity.StatusPending, identity.StatusMined} {
		cps, err := m.lister.ListByStatus(ctx, status)
		if err != nil {
			m.logger.Warn("checkpoint gauge refresh error", zap.Error(err))
			return
		}
		m.onGauge(string(status), float64(len(cps)))
	}
}
