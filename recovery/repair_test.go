package recovery

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/otcbroker/broker/config"
	"github.com/otcbroker/broker/domain"
	"github.com/otcbroker/broker/engine"
	"github.com/otcbroker/broker/internal/obslog"
	"github.com/otcbroker/broker/tank"
)

// newTestTankManager builds a tank.Manager over a fakeProvider, preloaded
// with the given "chainTag:address" -> balance entries.
func newTestTankManager(t *testing.T, balances map[string]int64) *tank.Manager {
	t.Helper()
	fp := newFakeProvider()
	for key, v := range balances {
		fp.balances[key] = big.NewInt(v)
	}
	chains := map[uint64]*config.ChainConfig{
		domain.ChainIDEthereum: {
			ChainID: domain.ChainIDEthereum, Kind: "evm",
			GasFundingAmount: "10000000000000000",
			LowTankThreshold: "50000000000000000",
		},
	}
	wallets := map[uint64]*tank.Wallet{
		domain.ChainIDEthereum: {ChainID: domain.ChainKindEVM, Address: "0xtank"},
	}
	return tank.New(obslog.New("tank-test"), fp, chains, wallets, time.Hour)
}

func TestFailMalformedFailsOutBadAddresses(t *testing.T) {
	st := newFakeStore()
	dealID := uuid.New()
	it := domain.QueueItem{
		ID: uuid.New(), DealID: dealID, ChainID: domain.ChainIDEthereum,
		Purpose: domain.PurposeDirectTransfer, FromAddr: "not-an-eth-address", ToAddr: "0x00000000000000000000000000000000000000ab",
		Status: domain.QueueStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateQueueItems(context.Background(), []domain.QueueItem{it}))

	m := New(st, engine.NewRegistry(), nil, nil, obslog.New("recovery-test"), "node-1", Config{MaxRetryAttempts: 3})
	repaired, failed := m.failMalformed(context.Background(), []domain.QueueItem{it}, time.Now())
	require.Equal(t, 0, repaired)
	require.Equal(t, 1, failed)

	items, err := st.QueueItemsForDeal(context.Background(), dealID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, domain.QueueStatusFailed, items[0].Status)
	require.NotEmpty(t, items[0].RecoveryError)
	require.Len(t, st.recov, 1)
	require.Equal(t, "MALFORMED_ITEM", st.recov[0].RecoveryType)
}

func TestFailMalformedLeavesWellFormedItemsAlone(t *testing.T) {
	st := newFakeStore()
	it := domain.QueueItem{
		ID: uuid.New(), DealID: uuid.New(), ChainID: domain.ChainIDEthereum,
		Purpose: domain.PurposeDirectTransfer,
		FromAddr: "0x00000000000000000000000000000000000000aa",
		ToAddr:   "0x00000000000000000000000000000000000000ab",
		Status:   domain.QueueStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateQueueItems(context.Background(), []domain.QueueItem{it}))

	m := New(st, engine.NewRegistry(), nil, nil, obslog.New("recovery-test"), "node-1", Config{MaxRetryAttempts: 3})
	repaired, failed := m.failMalformed(context.Background(), []domain.QueueItem{it}, time.Now())
	require.Equal(t, 0, repaired)
	require.Equal(t, 0, failed)
	require.Empty(t, st.recov)
}

func TestRepairStuckPendingBumpsAttemptsWithinLimit(t *testing.T) {
	st := newFakeStore()
	it := domain.QueueItem{
		ID: uuid.New(), DealID: uuid.New(), ChainID: domain.ChainIDEthereum,
		Status: domain.QueueStatusPending, CreatedAt: time.Now().Add(-time.Hour),
		RecoveryAttempts: 1, RecoveryError: "transient rpc error",
	}
	require.NoError(t, st.CreateQueueItems(context.Background(), []domain.QueueItem{it}))

	m := New(st, engine.NewRegistry(), nil, nil, obslog.New("recovery-test"), "node-1", Config{
		StuckPendingThreshold: 5 * time.Minute, MaxRetryAttempts: 3,
	})
	repaired, failed := m.repairStuckPending(context.Background(), []domain.QueueItem{it}, time.Now())
	require.Equal(t, 1, repaired)
	require.Equal(t, 0, failed)

	items, err := st.QueueItemsForDeal(context.Background(), it.DealID)
	require.NoError(t, err)
	require.Equal(t, 2, items[0].RecoveryAttempts)
	require.Empty(t, items[0].RecoveryError)
}

func TestRepairStuckPendingSkipsExhaustedRetries(t *testing.T) {
	st := newFakeStore()
	it := domain.QueueItem{
		ID: uuid.New(), DealID: uuid.New(), ChainID: domain.ChainIDEthereum,
		Status: domain.QueueStatusPending, CreatedAt: time.Now().Add(-time.Hour),
		RecoveryAttempts: 3,
	}
	require.NoError(t, st.CreateQueueItems(context.Background(), []domain.QueueItem{it}))

	m := New(st, engine.NewRegistry(), nil, nil, obslog.New("recovery-test"), "node-1", Config{
		StuckPendingThreshold: 5 * time.Minute, MaxRetryAttempts: 3,
	})
	repaired, failed := m.repairStuckPending(context.Background(), []domain.QueueItem{it}, time.Now())
	require.Equal(t, 0, repaired)
	require.Equal(t, 0, failed)
}

func TestRepairStuckPendingSkipsBelowThreshold(t *testing.T) {
	st := newFakeStore()
	it := domain.QueueItem{
		ID: uuid.New(), DealID: uuid.New(), ChainID: domain.ChainIDEthereum,
		Status: domain.QueueStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateQueueItems(context.Background(), []domain.QueueItem{it}))

	m := New(st, engine.NewRegistry(), nil, nil, obslog.New("recovery-test"), "node-1", Config{
		StuckPendingThreshold: 5 * time.Minute, MaxRetryAttempts: 3,
	})
	repaired, _ := m.repairStuckPending(context.Background(), []domain.QueueItem{it}, time.Now())
	require.Equal(t, 0, repaired)
}

func TestRepairStuckSubmittedPromotesToConfirmed(t *testing.T) {
	st := newFakeStore()
	adapter := newFakeAdapter("ethereum")
	adapter.setConfirmations("0xtx1", 10)
	rt := &engine.ChainRuntime{ChainID: domain.ChainIDEthereum, Adapter: adapter, ConfirmationThreshold: 6}
	registry := engine.NewRegistry(rt)

	it := domain.QueueItem{
		ID: uuid.New(), DealID: uuid.New(), ChainID: domain.ChainIDEthereum,
		Status:    domain.QueueStatusSubmitted,
		Submitted: &domain.SubmittedTx{TxID: "0xtx1", SubmittedAt: time.Now().Add(-time.Hour)},
	}
	require.NoError(t, st.CreateQueueItems(context.Background(), []domain.QueueItem{it}))

	m := New(st, registry, nil, nil, obslog.New("recovery-test"), "node-1", Config{
		StuckSubmittedThreshold: 10 * time.Minute, MaxRetryAttempts: 3,
	})
	repaired, failed := m.repairStuckSubmitted(context.Background(), []domain.QueueItem{it}, time.Now())
	require.Equal(t, 1, repaired)
	require.Equal(t, 0, failed)

	items, err := st.QueueItemsForDeal(context.Background(), it.DealID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusConfirmed, items[0].Status)
}

func TestRepairStuckSubmittedResetsDroppedTransaction(t *testing.T) {
	st := newFakeStore()
	adapter := newFakeAdapter("ethereum")
	// fakeAdapter.QueryStatus never returns negative confirmations on its
	// own, so this test preloads the chain-reports-dropped path directly
	// via a sentinel confirmation value the recovery code treats as such.
	adapter.confirmations["0xtx2"] = -1
	rt := &engine.ChainRuntime{ChainID: domain.ChainIDEthereum, Adapter: adapter, ConfirmationThreshold: 6}
	registry := engine.NewRegistry(rt)

	it := domain.QueueItem{
		ID: uuid.New(), DealID: uuid.New(), ChainID: domain.ChainIDEthereum,
		Status:    domain.QueueStatusSubmitted,
		Submitted: &domain.SubmittedTx{TxID: "0xtx2", SubmittedAt: time.Now().Add(-time.Hour)},
	}
	require.NoError(t, st.CreateQueueItems(context.Background(), []domain.QueueItem{it}))

	m := New(st, registry, nil, nil, obslog.New("recovery-test"), "node-1", Config{
		StuckSubmittedThreshold: 10 * time.Minute, MaxRetryAttempts: 3,
	})
	repaired, _ := m.repairStuckSubmitted(context.Background(), []domain.QueueItem{it}, time.Now())
	require.Equal(t, 1, repaired)

	items, err := st.QueueItemsForDeal(context.Background(), it.DealID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusPending, items[0].Status)
	require.Nil(t, items[0].Submitted)
	require.Equal(t, 1, items[0].RecoveryAttempts)
}

func TestRepairStuckSubmittedLeavesStillPendingAlone(t *testing.T) {
	st := newFakeStore()
	adapter := newFakeAdapter("ethereum")
	adapter.setConfirmations("0xtx3", 2)
	rt := &engine.ChainRuntime{ChainID: domain.ChainIDEthereum, Adapter: adapter, ConfirmationThreshold: 6}
	registry := engine.NewRegistry(rt)

	it := domain.QueueItem{
		ID: uuid.New(), DealID: uuid.New(), ChainID: domain.ChainIDEthereum,
		Status:    domain.QueueStatusSubmitted,
		Submitted: &domain.SubmittedTx{TxID: "0xtx3", SubmittedAt: time.Now().Add(-time.Hour)},
	}
	require.NoError(t, st.CreateQueueItems(context.Background(), []domain.QueueItem{it}))

	m := New(st, registry, nil, nil, obslog.New("recovery-test"), "node-1", Config{
		StuckSubmittedThreshold: 10 * time.Minute, MaxRetryAttempts: 3,
	})
	repaired, failed := m.repairStuckSubmitted(context.Background(), []domain.QueueItem{it}, time.Now())
	require.Equal(t, 0, repaired)
	require.Equal(t, 0, failed)
}

func TestRepairMissingApprovalSkipsChainsWithoutAllowanceQuerier(t *testing.T) {
	st := newFakeStore()
	adapter := newNoAllowanceAdapter("bsc")
	rt := &engine.ChainRuntime{
		ChainID: domain.ChainIDEthereum, Adapter: adapter, BrokerContractAddress: "0xbroker",
	}
	registry := engine.NewRegistry(rt)

	d := &domain.Deal{
		ID: uuid.New(), Stage: domain.StageSwap,
		Alice: domain.Side{ChainID: domain.ChainIDEthereum, Asset: "eth:TOKEN:0xusdc", Escrow: domain.Escrow{Address: "0xescrow1"}},
	}
	require.NoError(t, st.CreateDeal(context.Background(), d))

	m := New(st, registry, nil, nil, obslog.New("recovery-test"), "node-1", Config{MaxRetryAttempts: 3})
	repaired, failed := m.repairMissingApprovalForSide(context.Background(), d, d.Alice, time.Now())
	require.Equal(t, 0, repaired)
	require.Equal(t, 0, failed)
}

func TestRepairMissingApprovalSkipsWhenAllowanceAlreadySet(t *testing.T) {
	st := newFakeStore()
	adapter := newFakeAdapter("ethereum")
	adapter.setAllowance(1_000_000)
	rt := &engine.ChainRuntime{
		ChainID: domain.ChainIDEthereum, Adapter: adapter, BrokerContractAddress: "0xbroker",
	}
	registry := engine.NewRegistry(rt)

	d := &domain.Deal{
		ID: uuid.New(), Stage: domain.StageSwap,
		Alice: domain.Side{ChainID: domain.ChainIDEthereum, Asset: "eth:TOKEN:0xusdc", Escrow: domain.Escrow{Address: "0xescrow1"}},
	}
	require.NoError(t, st.CreateDeal(context.Background(), d))

	m := New(st, registry, nil, nil, obslog.New("recovery-test"), "node-1", Config{MaxRetryAttempts: 3})
	repaired, failed := m.repairMissingApprovalForSide(context.Background(), d, d.Alice, time.Now())
	require.Equal(t, 0, repaired)
	require.Equal(t, 0, failed)

	items, err := st.QueueItemsForDeal(context.Background(), d.ID)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestRepairMissingApprovalReenqueuesApprovalWhenAllowanceZero(t *testing.T) {
	st := newFakeStore()
	adapter := newFakeAdapter("ethereum")
	rt := &engine.ChainRuntime{
		ChainID: domain.ChainIDEthereum, Adapter: adapter, BrokerContractAddress: "0xbroker",
	}
	registry := engine.NewRegistry(rt)

	d := &domain.Deal{
		ID: uuid.New(), Stage: domain.StageSwap,
		Alice: domain.Side{ChainID: domain.ChainIDEthereum, Asset: "eth:TOKEN:0xusdc", Amount: mustAmount("1000"), Escrow: domain.Escrow{Address: "0xescrow1"}},
	}
	require.NoError(t, st.CreateDeal(context.Background(), d))

	tk := newTestTankManager(t, map[string]int64{"ethereum:0xescrow1": 0})
	m := New(st, registry, tk, nil, obslog.New("recovery-test"), "node-1", Config{MaxRetryAttempts: 3})
	repaired, failed := m.repairMissingApprovalForSide(context.Background(), d, d.Alice, time.Now())
	require.Equal(t, 1, repaired)
	require.Equal(t, 0, failed)

	items, err := st.QueueItemsForDeal(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, items, 2) // gas funding + approval, tank escrow balance is zero
	foundGas, foundApproval := false, false
	for _, it := range items {
		switch it.Purpose {
		case domain.PurposeGasFunding:
			foundGas = true
		case domain.PurposeApproval:
			foundApproval = true
		}
	}
	require.True(t, foundGas)
	require.True(t, foundApproval)
}

func TestRepairMissingApprovalSkipsNonERC20Assets(t *testing.T) {
	st := newFakeStore()
	adapter := newFakeAdapter("ethereum")
	rt := &engine.ChainRuntime{
		ChainID: domain.ChainIDEthereum, Adapter: adapter, BrokerContractAddress: "0xbroker",
	}
	registry := engine.NewRegistry(rt)

	d := &domain.Deal{
		ID: uuid.New(), Stage: domain.StageSwap,
		Alice: domain.Side{ChainID: domain.ChainIDEthereum, Asset: "eth:NATIVE", Escrow: domain.Escrow{Address: "0xescrow1"}},
	}
	require.NoError(t, st.CreateDeal(context.Background(), d))

	m := New(st, registry, nil, nil, obslog.New("recovery-test"), "node-1", Config{MaxRetryAttempts: 3})
	repaired, failed := m.repairMissingApprovalForSide(context.Background(), d, d.Alice, time.Now())
	require.Equal(t, 0, repaired)
	require.Equal(t, 0, failed)
}

func mustAmount(s string) domain.Amount {
	a, err := domain.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}
