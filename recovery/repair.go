package recovery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/chainadapter"
	"github.com/otcbroker/broker/domain"
)

// failMalformed fails out any PENDING/SUBMITTED item whose fromAddr/toAddr
// is not address-shaped for its chainId — a cross-chain mismatch can only
// come from a planning bug, and retrying it will never succeed (§4.2
// "Cross-chain sanity ... must be marked FAILED with a self-describing
// error rather than retried").
func (m *Manager) failMalformed(ctx context.Context, items []domain.QueueItem, now time.Time) (repaired, failed int) {
	for i := range items {
		it := items[i]
		if it.Status == domain.QueueStatusFailed {
			continue
		}
		if domain.AddressShaped(it.ChainID, it.FromAddr) && domain.AddressShaped(it.ChainID, it.ToAddr) {
			continue
		}
		reason := fmt.Sprintf("malformed queue item: fromAddr/toAddr not address-shaped for chain %d", it.ChainID)
		it.Status = domain.QueueStatusFailed
		it.RecoveryError = reason
		last := now
		it.LastRecoveryAt = &last
		err := m.store.UpdateQueueItem(ctx, &it)
		m.logRecovery(ctx, "MALFORMED_ITEM", it.DealID, it.ChainID, "fail_out", err == nil, err, map[string]string{
			"item_id": it.ID.String(), "purpose": string(it.Purpose),
		})
		if err != nil {
			m.log.Warnf("recovery: failMalformed: item %s: %v", it.ID, err)
			continue
		}
		failed++
	}
	return repaired, failed
}

// repairStuckPending marks for eligible re-submission any PENDING item
// with no submittedTx that has sat longer than StuckPendingThreshold and
// has not exhausted MaxRetryAttempts (§4.3 step 2). The engine's own
// submitter performs the actual re-submission on its next tick; this only
// clears a transient error and bumps the attempt counter so a later
// exhaustion check (§4.2's maxRecoveryAttempts) can still trip.
func (m *Manager) repairStuckPending(ctx context.Context, items []domain.QueueItem, now time.Time) (repaired, failed int) {
	for i := range items {
		it := items[i]
		if it.Status != domain.QueueStatusPending || it.Submitted != nil {
			continue
		}
		if now.Sub(it.CreatedAt) < m.cfg.StuckPendingThreshold {
			continue
		}
		if it.RecoveryAttempts >= m.cfg.MaxRetryAttempts {
			continue // left for observeSubmitted/failMalformed-style terminal handling
		}
		it.RecoveryAttempts++
		it.RecoveryError = ""
		last := now
		it.LastRecoveryAt = &last
		err := m.store.UpdateQueueItem(ctx, &it)
		m.logRecovery(ctx, "STUCK_PENDING", it.DealID, it.ChainID, "mark_eligible_resubmission", err == nil, err, map[string]string{
			"item_id": it.ID.String(), "attempt": fmt.Sprintf("%d", it.RecoveryAttempts),
		})
		if err != nil {
			m.log.Warnf("recovery: repairStuckPending: item %s: %v", it.ID, err)
			continue
		}
		repaired++
	}
	return repaired, failed
}

// repairStuckSubmitted asks the chain adapter for the current status of
// any SUBMITTED item older than StuckSubmittedThreshold and resets it to
// PENDING (failed/dropped/reorged) or promotes it to CONFIRMED (§4.3 step
// 3) — the same classification observeSubmitted applies every engine
// tick, just extended to items the engine's own observer pass may have
// missed (e.g. the deal it belongs to lost its lease race for several
// ticks running).
func (m *Manager) repairStuckSubmitted(ctx context.Context, items []domain.QueueItem, now time.Time) (repaired, failed int) {
	for i := range items {
		it := items[i]
		if it.Status != domain.QueueStatusSubmitted || it.Submitted == nil {
			continue
		}
		if now.Sub(it.Submitted.SubmittedAt) < m.cfg.StuckSubmittedThreshold {
			continue
		}
		rt, err := m.chains.Get(it.ChainID)
		if err != nil {
			m.log.Warnf("recovery: repairStuckSubmitted: item %s: %v", it.ID, err)
			continue
		}
		status, err := rt.Adapter.QueryStatus(ctx, it.Submitted.TxID)
		if err != nil {
			m.log.Warnf("recovery: repairStuckSubmitted: query status for item %s: %v", it.ID, err)
			continue
		}

		switch {
		case status.Confirmations < 0:
			it.Status = domain.QueueStatusPending
			it.Submitted = nil
			it.RecoveryAttempts++
			it.RecoveryError = "recovery: chain reports dropped/reorged transaction"
		case status.Confirmations >= rt.ConfirmationThreshold:
			it.Status = domain.QueueStatusConfirmed
		default:
			continue // still pending on-chain, nothing to repair yet
		}
		last := now
		it.LastRecoveryAt = &last
		uErr := m.store.UpdateQueueItem(ctx, &it)
		m.logRecovery(ctx, "STUCK_SUBMITTED", it.DealID, it.ChainID, "reclassify_from_chain_status", uErr == nil, uErr, map[string]string{
			"item_id": it.ID.String(), "new_status": string(it.Status),
		})
		if uErr != nil {
			m.log.Warnf("recovery: repairStuckSubmitted: item %s: %v", it.ID, uErr)
			continue
		}
		repaired++
	}
	return repaired, failed
}

// repairMissingApproval looks at every non-closed SWAP-stage deal with an
// ERC-20 side behind a configured broker contract, queries the broker's
// on-chain allowance from escrow, and re-enqueues an APPROVAL item (after
// ensuring gas funding) if it finds the allowance still zero (§4.3 step
// 1) — the case a dropped/reorged APPROVAL transaction leaves behind.
// Chains whose adapter does not implement chainadapter.AllowanceQuerier
// are skipped entirely (§4.4 "each may be unsupported on some chains;
// callers probe before use").
func (m *Manager) repairMissingApproval(ctx context.Context, now time.Time) (repaired, failed int) {
	deals, err := m.store.DealsByStage(ctx, domain.StageSwap)
	if err != nil {
		m.log.Warnf("recovery: repairMissingApproval: list swap deals: %v", err)
		return 0, 0
	}

	for _, d := range deals {
		for _, side := range d.Sides() {
			r, f := m.repairMissingApprovalForSide(ctx, d, *side, now)
			repaired += r
			failed += f
		}
	}
	return repaired, failed
}

func (m *Manager) repairMissingApprovalForSide(ctx context.Context, d *domain.Deal, side domain.Side, now time.Time) (repaired, failed int) {
	if domain.Kind(side.ChainID) != domain.ChainKindEVM {
		return 0, 0
	}
	rt, err := m.chains.Get(side.ChainID)
	if err != nil || !rt.HasBroker() {
		return 0, 0
	}
	asset, err := domain.ParseAsset(side.Asset)
	if err != nil || !asset.IsERC20(true) {
		return 0, 0
	}
	querier, ok := rt.Adapter.(chainadapter.AllowanceQuerier)
	if !ok {
		return 0, 0
	}

	allowance, err := querier.Allowance(ctx, asset.TokenAddress, side.Escrow.Address, rt.BrokerContractAddress)
	if err != nil {
		m.log.Warnf("recovery: repairMissingApproval: deal %s chain %d: %v", d.ID, side.ChainID, err)
		return 0, 0
	}
	if allowance.Sign() > 0 {
		return 0, 0
	}

	existing, err := m.store.QueueItemsForDeal(ctx, d.ID)
	if err != nil {
		m.log.Warnf("recovery: repairMissingApproval: deal %s: list items: %v", d.ID, err)
		return 0, 0
	}
	if hasOpenApproval(existing, side.ChainID) {
		return 0, 0 // already queued/submitted; let the engine's own submitter drive it
	}

	estimate, err := rt.Adapter.Estimate(ctx, &chainadapter.TransactionRequest{
		From: side.Escrow.Address, To: side.Escrow.Address, Asset: side.Asset,
		Amount: side.Amount.BigInt(), FeeSpeed: chainadapter.FeeSpeedNormal,
	})
	if err != nil {
		m.log.Warnf("recovery: repairMissingApproval: deal %s: estimate gas: %v", d.ID, err)
		return 0, 0
	}
	gasCost := estimate.Recommended
	if gasCost == nil {
		gasCost = big.NewInt(0)
	}
	needsGas, err := m.tank.NeedsGasFunding(ctx, side.ChainID, side.Escrow.Address, gasCost)
	if err != nil {
		m.log.Warnf("recovery: repairMissingApproval: deal %s: gas check: %v", d.ID, err)
		return 0, 0
	}

	var fresh []domain.QueueItem
	seq := 0
	for _, it := range existing {
		if it.Phase == domain.PhasePreSwap && it.Seq >= seq {
			seq = it.Seq + 1
		}
	}
	if needsGas {
		amount, err := m.tank.GasFundingAmount(side.ChainID)
		if err == nil {
			var tankAddr string
			if w := m.tank.Wallet(side.ChainID); w != nil {
				tankAddr = w.Address
			}
			fresh = append(fresh, newRecoveryQueueItem(d.ID, side.ChainID, domain.PurposeGasFunding, seq, tankAddr, side.Escrow.Address, domain.ChainTag(side.ChainID)+":NATIVE", amount))
			seq++
		}
	}
	fresh = append(fresh, newRecoveryQueueItem(d.ID, side.ChainID, domain.PurposeApproval, seq, side.Escrow.Address, rt.BrokerContractAddress, side.Asset, side.Amount))

	err = m.store.CreateQueueItems(ctx, fresh)
	m.logRecovery(ctx, "MISSING_APPROVAL", d.ID, side.ChainID, "re_enqueue_approval", err == nil, err, map[string]string{
		"escrow": side.Escrow.Address, "items": fmt.Sprintf("%d", len(fresh)),
	})
	if err != nil {
		m.log.Warnf("recovery: repairMissingApproval: deal %s: create items: %v", d.ID, err)
		return 0, 0
	}
	return 1, 0
}

func hasOpenApproval(items []domain.QueueItem, chainID uint64) bool {
	for _, it := range items {
		if it.ChainID == chainID && it.Purpose == domain.PurposeApproval && it.Status != domain.QueueStatusFailed {
			return true
		}
	}
	return false
}

// newRecoveryQueueItem builds a PRE_SWAP-phase queue item with a seq space
// disjoint from the engine's own planSettlement output. It is never mixed
// into the same phase as the original plan's items — both this and the
// original approval item (if any, already FAILED by the time this runs)
// carry phase PRE_SWAP, and §3's seq invariant is per-(deal, phase)
// contiguous-from-zero only for a single emission pass, not across
// repairs, so a repair simply continues from a seq value no live item in
// this phase currently holds.
func newRecoveryQueueItem(dealID uuid.UUID, chainID uint64, purpose domain.QueuePurpose, seq int, from, to, asset string, amount domain.Amount) domain.QueueItem {
	return domain.QueueItem{
		ID:       uuid.New(),
		DealID:   dealID,
		ChainID:  chainID,
		Purpose:  purpose,
		FromAddr: from,
		ToAddr:   to,
		Asset:    asset,
		Amount:   amount,
		Phase:    domain.PhasePreSwap,
		Seq:      seq,
		Status:   domain.QueueStatusPending,
	}
}
