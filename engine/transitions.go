package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/domain"
)

// advanceCreated implements "CREATED -> COLLECTION: both sides have
// paybackAddress and recipientAddress filled. Once entered, the collection
// deadline = now + timeoutSeconds is fixed." (§4.1)
func (e *Engine) advanceCreated(ctx context.Context, d *domain.Deal) error {
	if !d.BothHaveDetails() {
		return nil
	}
	deadline := time.Now().Add(time.Duration(d.TimeoutSeconds) * time.Second)
	d.Stage = domain.StageCollection
	d.CollectionDeadline = &deadline
	d.UpdatedAt = time.Now()
	if err := e.store.UpdateDeal(ctx, d); err != nil {
		return fmt.Errorf("advanceCreated: %w", err)
	}
	e.appendEvent(ctx, d.ID, "entered COLLECTION, deadline "+deadline.Format(time.RFC3339))
	return nil
}

// advanceCollection implements the COLLECTION transitions: SWAP (both
// escrows funded to threshold) and REVERTED (deadline passed with an
// unfunded side). It never produces EXPIRED_NO_DETAILS, since
// advanceCreated already requires both details before entering COLLECTION.
func (e *Engine) advanceCollection(ctx context.Context, d *domain.Deal) error {
	if d.CollectionDeadline == nil {
		return fmt.Errorf("advanceCollection: deal %s in COLLECTION with no deadline", d.ID)
	}

	aliceFunded, aliceErr := e.isFunded(ctx, d.Alice)
	bobFunded, bobErr := e.isFunded(ctx, d.Bob)
	if aliceErr != nil || bobErr != nil {
		// Transient I/O: retry next tick (§7).
		return nil
	}

	if aliceFunded && bobFunded {
		d.Stage = domain.StageSwap
		d.UpdatedAt = time.Now()
		if err := e.store.UpdateDeal(ctx, d); err != nil {
			return fmt.Errorf("advanceCollection: promote to SWAP: %w", err)
		}
		e.appendEvent(ctx, d.ID, "both sides funded to threshold, entering SWAP")
		return e.planSettlement(ctx, d)
	}

	if time.Now().Before(*d.CollectionDeadline) {
		return nil
	}

	// EXPIRED_NO_DETAILS (§4.1) is reserved for deals whose details were
	// never filled in — unreachable here, since advanceCreated gates entry
	// into COLLECTION on both sides having details. Any deadline reached in
	// COLLECTION, funded or not, is a REVERTED deal (§4.1 "deadline reached
	// with at least one side still unfunded"); the both-unfunded case just
	// has nothing to refund (S3).
	d.Stage = domain.StageReverted
	if !aliceFunded && !bobFunded {
		d.RevertReason = "collection deadline reached, neither side funded"
	} else {
		d.RevertReason = "collection deadline reached, counterparty no-show"
		if err := e.enqueueUnilateralRefund(ctx, d, aliceFunded); err != nil {
			return fmt.Errorf("advanceCollection: enqueue refund: %w", err)
		}
	}
	d.UpdatedAt = time.Now()
	if err := e.store.UpdateDeal(ctx, d); err != nil {
		return fmt.Errorf("advanceCollection: terminal transition: %w", err)
	}
	e.appendEvent(ctx, d.ID, fmt.Sprintf("collection deadline reached: %s (%s)", d.Stage, d.RevertReason))
	return nil
}

// advanceSwap submits/observes queue items and promotes to CLOSED once
// every item for the deal is CONFIRMED (§4.1 "SWAP -> CLOSED"). It also
// re-checks confirmations for reorg tolerance (§4.1 "Reorg tolerance"):
// only before any SWAP-phase item has been submitted may the deal fall
// back to COLLECTION.
func (e *Engine) advanceSwap(ctx context.Context, d *domain.Deal) error {
	items, err := e.store.QueueItemsForDeal(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("advanceSwap: load queue items: %w", err)
	}
	if len(items) == 0 {
		// Re-entering SWAP without a plan (e.g. recovered from a crash
		// between the stage write and planSettlement) — replan.
		return e.planSettlement(ctx, d)
	}

	if !swapPhaseStarted(items) {
		if reverted, rerr := e.checkReorgReversion(ctx, d); rerr != nil {
			return rerr
		} else if reverted {
			return nil
		}
	}

	if err := e.submitReady(ctx, d, items); err != nil {
		e.log.Warnf("advanceSwap: submit deal %s: %v", d.ID, err)
	}
	if err := e.observeSubmitted(ctx, d, items); err != nil {
		e.log.Warnf("advanceSwap: observe deal %s: %v", d.ID, err)
	}

	items, err = e.store.QueueItemsForDeal(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("advanceSwap: reload queue items: %w", err)
	}
	if allSettled(items) {
		d.Stage = domain.StageClosed
		d.UpdatedAt = time.Now()
		if err := e.store.UpdateDeal(ctx, d); err != nil {
			return fmt.Errorf("advanceSwap: promote to CLOSED: %w", err)
		}
		e.appendEvent(ctx, d.ID, "all settlement queue items settled, deal CLOSED")
	}
	return nil
}

// swapPhaseStarted reports whether any SWAP-phase item has left PENDING —
// the point after which §4.1 forbids reversing the stage back to
// COLLECTION ("SWAP -> REVERTED is forbidden once entered").
func swapPhaseStarted(items []domain.QueueItem) bool {
	for _, it := range items {
		if it.Phase == domain.PhaseSwap && it.Status != domain.QueueStatusPending {
			return true
		}
	}
	return false
}

// allSettled reports whether every queue item for a deal is CONFIRMED
// (§4.1 "SWAP -> CLOSED"); a FAILED item keeps the deal in SWAP.
func allSettled(items []domain.QueueItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if it.Status != domain.QueueStatusConfirmed {
			return false
		}
	}
	return true
}

// checkReorgReversion re-verifies both sides' confirmation counts; if
// either has dropped below threshold and SWAP-phase submission has not
// begun, the deal reverts to COLLECTION to await refunding of deposits
// (§4.1 "Reorg tolerance").
func (e *Engine) checkReorgReversion(ctx context.Context, d *domain.Deal) (bool, error) {
	aliceFunded, aliceErr := e.isFunded(ctx, d.Alice)
	bobFunded, bobErr := e.isFunded(ctx, d.Bob)
	if aliceErr != nil || bobErr != nil {
		return false, nil // transient; leave deal in SWAP and retry
	}
	if aliceFunded && bobFunded {
		return false, nil
	}
	d.Stage = domain.StageCollection
	d.UpdatedAt = time.Now()
	if err := e.store.UpdateDeal(ctx, d); err != nil {
		return false, fmt.Errorf("checkReorgReversion: revert to COLLECTION: %w", err)
	}
	e.appendEvent(ctx, d.ID, "reorg dropped a deposit below threshold before SWAP submission began, reverted to COLLECTION")
	return true, nil
}

func (e *Engine) appendEvent(ctx context.Context, dealID uuid.UUID, msg string) {
	if err := e.store.AppendEvent(ctx, domain.Event{
		DealID:    dealID,
		Timestamp: time.Now().UnixMilli(),
		Message:   msg,
	}); err != nil {
		e.log.Warnf("engine: append event for deal %s failed: %v", dealID, err)
	}
}
