package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/otcbroker/broker/chainadapter"
	"github.com/otcbroker/broker/domain"
)

const maxRecoveryAttempts = 3

// observeSubmitted polls every SUBMITTED item's transaction status and
// promotes it to CONFIRMED once it reaches the chain's confirmation
// threshold, or reverts it to PENDING on a chain-reported failure/reorg
// (negative confirmations, §4.2 "on chain-reported failure/reorg, item
// reverts to PENDING with recoveryAttempts++"). After maxRecoveryAttempts
// failed attempts the item becomes FAILED and needs human intervention.
func (e *Engine) observeSubmitted(ctx context.Context, d *domain.Deal, items []domain.QueueItem) error {
	for i := range items {
		it := items[i]
		if it.Status != domain.QueueStatusSubmitted || it.Submitted == nil {
			continue
		}
		rt, err := e.chains.Get(it.ChainID)
		if err != nil {
			e.log.Warnf("observeSubmitted: item %s: %v", it.ID, err)
			continue
		}
		status, err := rt.Adapter.QueryStatus(ctx, it.Submitted.TxID)
		if err != nil {
			if chainadapter.IsNonRetryable(err) {
				e.log.Warnf("observeSubmitted: item %s: non-retryable status query error: %v", it.ID, err)
			}
			continue // transient; retry next tick
		}

		if status.Confirmations < 0 {
			e.revertToPending(ctx, d, &it, "chain reported dropped/reorged transaction")
			continue
		}
		if status.Confirmations >= rt.ConfirmationThreshold {
			it.Status = domain.QueueStatusConfirmed
			if err := e.store.UpdateQueueItem(ctx, &it); err != nil {
				e.log.Warnf("observeSubmitted: confirm item %s: %v", it.ID, err)
				continue
			}
			e.appendEvent(ctx, d.ID, fmt.Sprintf("%s confirmed on chain %d: %s", it.Purpose, it.ChainID, it.Submitted.TxID))
		}
	}
	return nil
}

func (e *Engine) revertToPending(ctx context.Context, d *domain.Deal, it *domain.QueueItem, reason string) {
	it.RecoveryAttempts++
	now := time.Now()
	it.LastRecoveryAt = &now
	it.RecoveryError = reason
	if it.RecoveryAttempts >= maxRecoveryAttempts {
		it.Status = domain.QueueStatusFailed
		if err := e.store.UpdateQueueItem(ctx, it); err != nil {
			e.log.Warnf("revertToPending: fail item %s: %v", it.ID, err)
			return
		}
		e.appendEvent(ctx, d.ID, fmt.Sprintf("%s FAILED after %d attempts: %s", it.Purpose, it.RecoveryAttempts, reason))
		return
	}
	it.Status = domain.QueueStatusPending
	it.Submitted = nil
	if err := e.store.UpdateQueueItem(ctx, it); err != nil {
		e.log.Warnf("revertToPending: item %s: %v", it.ID, err)
		return
	}
	e.appendEvent(ctx, d.ID, fmt.Sprintf("%s reverted to PENDING (attempt %d): %s", it.Purpose, it.RecoveryAttempts, reason))
}
