package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/otcbroker/broker/broker"
	"github.com/otcbroker/broker/config"
	"github.com/otcbroker/broker/domain"
	"github.com/otcbroker/broker/internal/obslog"
	"github.com/otcbroker/broker/keymanager"
	"github.com/otcbroker/broker/oracle"
	"github.com/otcbroker/broker/tank"
)

const (
	testEVMChainID       uint64 = domain.ChainIDEthereum
	testEVMBrokerChainID uint64 = domain.ChainIDPolygon
	testUTXOChainID      uint64 = domain.ChainIDBitcoin

	// deterministicOperatorKeyHex is a throwaway secp256k1 key used only to
	// exercise broker.OperatorSigner in tests; it authorizes no real contract.
	deterministicOperatorKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362de"
)

func ctxTB(_ testing.TB) context.Context { return context.Background() }

// testHarness bundles the fakes and a real keymanager.Manager (key
// derivation is cheap and deterministic, so there is no value in faking
// it) needed to build one Engine per test.
type testHarness struct {
	t         *testing.T
	store     *fakeStore
	keys      *keymanager.Manager
	provider  *fakeProvider
	evm       *fakeAdapter
	evmBroker *fakeAdapter
	utxo      *fakeAdapter
	tank      *tank.Manager
	chains    *Registry
	signer    *broker.OperatorSigner
	engine    *Engine
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	seed := make(keymanager.Seed, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	keys, err := keymanager.NewManager(seed, "regtest")
	require.NoError(t, err)

	prov := newFakeProvider()
	evm := newFakeAdapter("ethereum")
	evmBroker := newFakeAdapter("polygon")
	utxo := newFakeAdapter("bitcoin")

	tankEscrow, err := keys.DeriveEscrow(testEVMChainID, tankIndex)
	require.NoError(t, err)
	tankWallet := &tank.Wallet{ChainID: domain.ChainKindEVM, Address: tankEscrow.Address}
	chainConfigs := map[uint64]*config.ChainConfig{
		testEVMChainID:       {GasFundingAmount: "1000000000000000", LowTankThreshold: "1000000000000000000"},
		testEVMBrokerChainID: {GasFundingAmount: "1000000000000000", LowTankThreshold: "1000000000000000000"},
	}
	wallets := map[uint64]*tank.Wallet{
		testEVMChainID:       tankWallet,
		testEVMBrokerChainID: tankWallet,
	}
	tk := tank.New(obslog.New("test-tank"), prov, chainConfigs, wallets, time.Hour)

	signer, err := broker.NewOperatorSigner(deterministicOperatorKeyHex)
	require.NoError(t, err)

	reg := NewRegistry(
		&ChainRuntime{
			ChainID: testEVMChainID, Adapter: evm, Provider: prov, ProviderChainTag: "ethereum",
			ConfirmationThreshold: 2, CollectionThreshold: 2, OperatorAddress: "0xOPERATOR",
			EVMChainID: 1,
		},
		&ChainRuntime{
			ChainID: testEVMBrokerChainID, Adapter: evmBroker, Provider: prov, ProviderChainTag: "polygon",
			ConfirmationThreshold: 2, CollectionThreshold: 2, OperatorAddress: "0xOPERATOR",
			BrokerContractAddress: "0xBROKER", EVMChainID: 137,
		},
		&ChainRuntime{
			ChainID: testUTXOChainID, Adapter: utxo, Provider: prov, ProviderChainTag: "bitcoin",
			ConfirmationThreshold: 1, CollectionThreshold: 1, OperatorAddress: "",
			UTXONetwork: "regtest",
		},
	)

	commission := oracle.Policy{KnownAssetBps: 30, FixedUSDRate: 10, Rates: oracle.NewFixedRateOracle(map[uint64]domain.Amount{
		testEVMChainID:       domain.AmountFromUint64(1_000_000_000_000_000_000),
		testEVMBrokerChainID: domain.AmountFromUint64(1_000_000_000_000_000_000),
	})}

	st := newFakeStore()
	e := New(st, reg, keys, tk, commission, signer, nil, obslog.New("test-engine"), "test-node")

	return &testHarness{
		t: t, store: st, keys: keys, provider: prov,
		evm: evm, evmBroker: evmBroker, utxo: utxo, tank: tk, chains: reg, signer: signer, engine: e,
	}
}

// newDeal builds a minimal two-sided deal with escrows derived from the
// harness's keymanager at the given indices, ready to drive through
// COLLECTION/SWAP.
func (h *testHarness) newDeal(aliceChain, bobChain uint64, aliceIdx, bobIdx uint64, amount domain.Amount, aliceAsset, bobAsset string) *domain.Deal {
	h.t.Helper()
	aliceEscrow, err := h.keys.DeriveEscrow(aliceChain, aliceIdx)
	require.NoError(h.t, err)
	bobEscrow, err := h.keys.DeriveEscrow(bobChain, bobIdx)
	require.NoError(h.t, err)

	d := &domain.Deal{
		ID:             uuid.New(),
		Stage:          domain.StageCollection,
		TimeoutSeconds: 3600,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		Alice: domain.Side{
			ChainID: aliceChain, Asset: aliceAsset, Amount: amount,
			RecipientAddr: "alice-recipient", PaybackAddr: "alice-payback", Escrow: aliceEscrow,
		},
		Bob: domain.Side{
			ChainID: bobChain, Asset: bobAsset, Amount: amount,
			RecipientAddr: "bob-recipient", PaybackAddr: "bob-payback", Escrow: bobEscrow,
		},
	}
	deadline := time.Now().Add(time.Hour)
	d.CollectionDeadline = &deadline
	require.NoError(h.t, h.store.CreateDeal(ctxTB(h.t), d))
	return d
}
