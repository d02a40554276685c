// Package recovery runs the 5-minute recovery tick (§4.3): a janitor pass
// over the queue and the tank that nudges stuck work forward without ever
// advancing a deal's stage itself — that remains the engine's job alone.
// It shares the engine's rehydrate-mutate-persist shape and the same
// store-backed leasing discipline, grounded on engine/engine.go's Tick.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/domain"
	"github.com/otcbroker/broker/engine"
	"github.com/otcbroker/broker/internal/obslog"
	"github.com/otcbroker/broker/obsmetrics"
	"github.com/otcbroker/broker/store"
	"github.com/otcbroker/broker/tank"
)

const (
	leaseResourceRecovery = "recovery:tick"
	leaseRecoveryTTL      = 4 * time.Minute
)

// Config bundles the tunables from config.RecoveryConfig that the manager
// needs at runtime (§6.5).
type Config struct {
	StuckPendingThreshold   time.Duration
	StuckSubmittedThreshold time.Duration
	MaxRetryAttempts        int
	TankLowBalanceCooldown  time.Duration
}

// Manager is the recovery tick's process-wide service, constructed once at
// startup alongside the engine and ticked on its own 5-minute interval
// (§4.3, §7 "process-wide services with explicit lifecycle").
type Manager struct {
	store   store.Store
	chains  *engine.Registry
	tank    *tank.Manager
	metrics obsmetrics.Recorder
	log     *obslog.Logger
	nodeID  string
	cfg     Config
}

// New constructs a recovery Manager.
func New(st store.Store, chains *engine.Registry, tk *tank.Manager, metrics obsmetrics.Recorder, log *obslog.Logger, nodeID string, cfg Config) *Manager {
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}
	return &Manager{store: st, chains: chains, tank: tk, metrics: metrics, log: log, nodeID: nodeID, cfg: cfg}
}

// Tick runs one recovery pass under the global recovery lease (§4.3 "A
// 5-minute tick under a global lease"). A tick that loses the lease race
// is simply skipped; the next tick five minutes later picks the same work
// back up, so skipping is always safe.
func (m *Manager) Tick(ctx context.Context) error {
	if err := m.store.AcquireLease(ctx, leaseResourceRecovery, m.nodeID, leaseRecoveryTTL); err != nil {
		if err == store.ErrLeaseHeld {
			m.log.Debugf("recovery tick: lease held elsewhere, skipping")
			return nil
		}
		return fmt.Errorf("recovery: acquire lease: %w", err)
	}
	defer func() {
		if err := m.store.ReleaseLease(context.Background(), leaseResourceRecovery, m.nodeID); err != nil {
			m.log.Warnf("recovery tick: release lease failed: %v", err)
		}
	}()

	items, err := m.store.PendingQueueItems(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list pending items: %w", err)
	}

	repaired, failed := 0, 0
	now := time.Now()

	r, f := m.failMalformed(ctx, items, now)
	repaired += r
	failed += f

	r, f = m.repairStuckPending(ctx, items, now)
	repaired += r
	failed += f

	r, f = m.repairStuckSubmitted(ctx, items, now)
	repaired += r
	failed += f

	r, f = m.repairMissingApproval(ctx, now)
	repaired += r
	failed += f

	m.sweepTankBalances(ctx, now)

	if m.metrics != nil {
		m.metrics.RecordRecoveryTick(repaired, failed)
	}
	return nil
}

// logRecovery writes one recovery-manager audit row, ignoring a write
// failure beyond a log line — the repair it describes has already
// happened against the queue item itself (§4.3 "Every action writes one
// recovery log row").
func (m *Manager) logRecovery(ctx context.Context, recoveryType string, dealID uuid.UUID, chainID uint64, action string, success bool, repairErr error, metadata map[string]string) {
	entry := domain.RecoveryLogEntry{
		ID:           uuid.New(),
		DealID:       dealID,
		RecoveryType: recoveryType,
		ChainID:      chainID,
		Action:       action,
		Success:      success,
		Metadata:     metadata,
		CreatedAt:    time.Now().UnixMilli(),
	}
	if repairErr != nil {
		entry.Error = repairErr.Error()
	}
	if err := m.store.AppendRecoveryLog(ctx, entry); err != nil {
		m.log.Warnf("recovery: append log (%s/%s) failed: %v", recoveryType, action, err)
	}
}
