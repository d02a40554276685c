package engine

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otcbroker/broker/domain"
)

func itemsWithPurpose(items []domain.QueueItem, purpose domain.QueuePurpose) []domain.QueueItem {
	var out []domain.QueueItem
	for _, it := range items {
		if it.Purpose == purpose {
			out = append(out, it)
		}
	}
	return out
}

func itemFrom(items []domain.QueueItem, fromAddr string, purpose domain.QueuePurpose) (domain.QueueItem, bool) {
	for _, it := range items {
		if it.FromAddr == fromAddr && it.Purpose == purpose {
			return it, true
		}
	}
	return domain.QueueItem{}, false
}

func TestPlanSettlementDirectPathTransfersToCounterpartyRecipient(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(1_000_000_000_000_000_000)
	deal := h.newDeal(testEVMChainID, testEVMChainID, 1, 2, amount, "eth:NATIVE", "eth:NATIVE")

	require.NoError(t, h.engine.planSettlement(ctxTB(t), deal))

	items, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	aliceTransfer, ok := itemFrom(items, deal.Alice.Escrow.Address, domain.PurposeDirectTransfer)
	require.True(t, ok, "alice should have a DIRECT_TRANSFER item")
	require.Equal(t, deal.Bob.RecipientAddr, aliceTransfer.ToAddr, "alice's escrow pays out to bob's recipient, not her own")

	bobTransfer, ok := itemFrom(items, deal.Bob.Escrow.Address, domain.PurposeDirectTransfer)
	require.True(t, ok, "bob should have a DIRECT_TRANSFER item")
	require.Equal(t, deal.Alice.RecipientAddr, bobTransfer.ToAddr, "bob's escrow pays out to alice's recipient, not her own")
}

func TestPlanSettlementDirectPathEmitsCommissionTransfer(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(1_000_000_000_000_000_000)
	deal := h.newDeal(testEVMChainID, testEVMChainID, 1, 2, amount, "eth:NATIVE", "eth:NATIVE")

	require.NoError(t, h.engine.planSettlement(ctxTB(t), deal))
	items, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)

	commissions := itemsWithPurpose(items, domain.PurposeCommissionTransfer)
	require.Len(t, commissions, 2, "both direct-path sides owe a separate commission item")
	for _, c := range commissions {
		require.Equal(t, domain.PhasePostSwap, c.Phase)
		require.False(t, c.Amount.IsZero())
	}
}

func TestPlanSettlementBrokerPathSkipsSeparateCommissionItem(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(1_000_000_000_000_000_000)
	// Alice settles through the broker-enabled chain; Bob settles directly.
	deal := h.newDeal(testEVMBrokerChainID, testEVMChainID, 1, 2, amount, "eth:NATIVE", "eth:NATIVE")

	require.NoError(t, h.engine.planSettlement(ctxTB(t), deal))
	items, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)

	aliceSwap, ok := itemFrom(items, deal.Alice.Escrow.Address, domain.PurposeBrokerSwap)
	require.True(t, ok, "alice's principal transfer should go through the broker")

	_, hasAliceCommission := itemFrom(items, deal.Alice.Escrow.Address, domain.PurposeCommissionTransfer)
	require.False(t, hasAliceCommission, "broker path must not emit a separate commission item — the atomic call already pays it")

	_, hasBobCommission := itemFrom(items, deal.Bob.Escrow.Address, domain.PurposeCommissionTransfer)
	require.True(t, hasBobCommission, "bob's direct path still needs its own commission item")

	require.Equal(t, domain.PhaseSwap, aliceSwap.Phase)
}

func TestClampCommissionToSurplusCapsAtAdvertised(t *testing.T) {
	// clampCommissionToSurplus never lets commission exceed the advertised
	// amount, and leaves a smaller commission unchanged.
	advertised := domain.AmountFromUint64(1000)
	commission := domain.AmountFromUint64(5000)
	got := clampCommissionToSurplus(commission, advertised)
	require.Equal(t, advertised.String(), got.String())

	small := domain.AmountFromUint64(3)
	got2 := clampCommissionToSurplus(small, advertised)
	require.Equal(t, small.String(), got2.String())
}

func TestPlanSettlementSeqIsContiguousFromZeroPerDealPhase(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(1_000_000_000_000_000_000)
	// Broker-enabled on alice's chain so PRE_SWAP carries both a
	// GAS_FUNDING and an APPROVAL item, and POST_SWAP carries both a
	// GAS_REFUND_TO_TANK (broker path) and a COMMISSION_TRANSFER (bob's
	// direct path) — enough items per phase, across both sides, to catch
	// a counter that isn't properly shared or reset.
	deal := h.newDeal(testEVMBrokerChainID, testEVMChainID, 1, 2, amount, "eth:erc20:0xtoken", "eth:NATIVE")

	require.NoError(t, h.engine.planSettlement(ctxTB(t), deal))
	items, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	byPhase := make(map[domain.Phase][]int)
	for _, it := range items {
		byPhase[it.Phase] = append(byPhase[it.Phase], it.Seq)
	}
	for phase, seqs := range byPhase {
		sort.Ints(seqs)
		for i, s := range seqs {
			require.Equal(t, i, s, "phase %v: seq values must be contiguous from 0, got %v", phase, seqs)
		}
		seen := make(map[int]bool)
		for _, s := range seqs {
			require.False(t, seen[s], "phase %v: duplicate seq %d across sides, got %v", phase, s, seqs)
			seen[s] = true
		}
	}
}

func TestEnqueueUnilateralRefundPaysBackFundedSide(t *testing.T) {
	h := newTestHarness(t)
	amount := domain.AmountFromUint64(500_000)
	deal := h.newDeal(testEVMChainID, testEVMChainID, 1, 2, amount, "eth:NATIVE", "eth:NATIVE")

	require.NoError(t, h.engine.enqueueUnilateralRefund(ctxTB(t), deal, true))
	items, err := h.store.QueueItemsForDeal(ctxTB(t), deal.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, deal.Alice.Escrow.Address, items[0].FromAddr)
	require.Equal(t, deal.Alice.PaybackAddr, items[0].ToAddr)
}
