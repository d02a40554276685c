package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/otcbroker/broker/domain"
)

func newSubmittedItem(deal *domain.Deal, chainID uint64, txHash string) domain.QueueItem {
	return domain.QueueItem{
		ID: uuid.New(), DealID: deal.ID, ChainID: chainID,
		Purpose: domain.PurposeDirectTransfer, Phase: domain.PhaseSwap, Seq: 0,
		FromAddr: deal.Alice.Escrow.Address, ToAddr: deal.Bob.RecipientAddr,
		Asset: "eth:NATIVE", Amount: domain.AmountFromUint64(1),
		Status:    domain.QueueStatusSubmitted,
		Submitted: &domain.SubmittedTx{TxID: txHash, SubmittedAt: time.Now()},
	}
}

func TestObserveSubmittedPromotesToConfirmedAtThreshold(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(1)
	deal := h.newDeal(testEVMChainID, testEVMChainID, 1, 2, amount, "eth:NATIVE", "eth:NATIVE")

	it := newSubmittedItem(deal, testEVMChainID, "0xabc")
	require.NoError(t, h.store.CreateQueueItems(ctxTB(t), []domain.QueueItem{it}))
	h.evm.setConfirmations("0xabc", 2) // ConfirmationThreshold is 2 for this chain

	require.NoError(t, h.engine.observeSubmitted(ctxTB(t), deal, []domain.QueueItem{it}))

	stored, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, domain.QueueStatusConfirmed, stored[0].Status)
}

func TestObserveSubmittedLeavesItemSubmittedBelowThreshold(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(1)
	deal := h.newDeal(testEVMChainID, testEVMChainID, 1, 2, amount, "eth:NATIVE", "eth:NATIVE")

	it := newSubmittedItem(deal, testEVMChainID, "0xabc")
	require.NoError(t, h.store.CreateQueueItems(ctxTB(t), []domain.QueueItem{it}))
	h.evm.setConfirmations("0xabc", 1) // below ConfirmationThreshold of 2

	require.NoError(t, h.engine.observeSubmitted(ctxTB(t), deal, []domain.QueueItem{it}))

	stored, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusSubmitted, stored[0].Status)
}

func TestObserveSubmittedRevertsToPendingOnReorg(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(1)
	deal := h.newDeal(testEVMChainID, testEVMChainID, 1, 2, amount, "eth:NATIVE", "eth:NATIVE")

	it := newSubmittedItem(deal, testEVMChainID, "0xabc")
	require.NoError(t, h.store.CreateQueueItems(ctxTB(t), []domain.QueueItem{it}))
	h.evm.setConfirmations("0xabc", -1) // dropped/reorged

	require.NoError(t, h.engine.observeSubmitted(ctxTB(t), deal, []domain.QueueItem{it}))

	stored, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusPending, stored[0].Status)
	require.Nil(t, stored[0].Submitted)
	require.Equal(t, 1, stored[0].RecoveryAttempts)
}

func TestObserveSubmittedFailsAfterMaxRecoveryAttempts(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(1)
	deal := h.newDeal(testEVMChainID, testEVMChainID, 1, 2, amount, "eth:NATIVE", "eth:NATIVE")

	it := newSubmittedItem(deal, testEVMChainID, "0xabc")
	it.RecoveryAttempts = maxRecoveryAttempts - 1
	require.NoError(t, h.store.CreateQueueItems(ctxTB(t), []domain.QueueItem{it}))
	h.evm.setConfirmations("0xabc", -1)

	require.NoError(t, h.engine.observeSubmitted(ctxTB(t), deal, []domain.QueueItem{it}))

	stored, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusFailed, stored[0].Status)
}
