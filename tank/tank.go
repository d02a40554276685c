// Package tank manages the per-chain hot wallet ("tank") that pays gas for
// escrow-originated outbound transactions (§4.6).
//
// One tank wallet exists per chain that needs native-gas funding — in
// practice every EVM chain in the deployment, since a UTXO chain pays its
// own fee out of the spending transaction's inputs and never needs a
// GAS_FUNDING queue item. The tank is a process-wide service, initialized
// once at startup and passed by reference into the engine, matching §7's
// "global mutable state ... represented by process-wide services with
// explicit lifecycle (init, health-check, shutdown)".
package tank

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/otcbroker/broker/chainadapter/provider"
	"github.com/otcbroker/broker/config"
	"github.com/otcbroker/broker/domain"
	"github.com/otcbroker/broker/internal/obslog"
	"github.com/otcbroker/broker/keymanager"
)

// Wallet is one chain's hot wallet: an address plus the means to sign
// outbound transfers from it.
type Wallet struct {
	ChainID domain.ChainKind
	Address string
	Signer  interface {
		GetAddress() string
	}
}

// Manager holds one Wallet per configured chain and answers the two
// questions the engine and recovery subsystem need: "does this escrow have
// enough gas" and "is the tank itself running low".
type Manager struct {
	log      *obslog.Logger
	provider provider.BlockchainProvider
	chains   map[uint64]*config.ChainConfig
	wallets  map[uint64]*Wallet

	mu             sync.Mutex
	lastLowBalance map[uint64]time.Time // for the 1-hour dedup cooldown
	cooldown       time.Duration
}

// New constructs a tank Manager. wallets is keyed by chain id; each entry's
// Address is the tank's hot wallet address on that chain, typically
// keymanager-derived index 0 reserved for tank use (escrow indices start
// at 1 so the tank never collides with an escrow address).
func New(log *obslog.Logger, bp provider.BlockchainProvider, chains map[uint64]*config.ChainConfig, wallets map[uint64]*Wallet, cooldown time.Duration) *Manager {
	return &Manager{
		log:            log,
		provider:       bp,
		chains:         chains,
		wallets:        wallets,
		lastLowBalance: make(map[uint64]time.Time),
		cooldown:       cooldown,
	}
}

// Wallet returns the tank wallet configured for chainID, or nil if this
// chain has none (e.g. the UTXO side, which never needs gas funding).
func (m *Manager) Wallet(chainID uint64) *Wallet {
	return m.wallets[chainID]
}

// NeedsGasFunding reports whether escrowAddr on chainID holds less than
// estimatedGas × 1.2 in native coin (§4.1 step 1). UTXO chains never need
// gas funding and always return false.
func (m *Manager) NeedsGasFunding(ctx context.Context, chainID uint64, escrowAddr string, estimatedGas *big.Int) (bool, error) {
	if domain.Kind(chainID) == domain.ChainKindUTXO {
		return false, nil
	}
	chainTag := providerChainTag(chainID)
	balance, err := m.provider.GetBalance(ctx, chainTag, escrowAddr)
	if err != nil {
		return false, fmt.Errorf("tank: query escrow balance: %w", err)
	}
	required := new(big.Int).Mul(estimatedGas, big.NewInt(12))
	required.Div(required, big.NewInt(10))
	return balance.Cmp(required) < 0, nil
}

// GasFundingAmount returns the configured per-chain funding amount (§6.5)
// as a domain.Amount in the chain's smallest unit.
func (m *Manager) GasFundingAmount(chainID uint64) (domain.Amount, error) {
	cc, ok := m.chains[chainID]
	if !ok {
		return domain.Amount{}, fmt.Errorf("tank: no chain config for chain %d", chainID)
	}
	return domain.ParseAmount(cc.GasFundingAmount)
}

// LowTankThreshold returns the configured low-balance threshold for chainID.
func (m *Manager) LowTankThreshold(chainID uint64) (domain.Amount, error) {
	cc, ok := m.chains[chainID]
	if !ok {
		return domain.Amount{}, fmt.Errorf("tank: no chain config for chain %d", chainID)
	}
	return domain.ParseAmount(cc.LowTankThreshold)
}

// CheckLowBalance queries the tank wallet's current balance on chainID and
// reports whether it is below the configured threshold. The caller
// (recovery tick) is responsible for deduping LOW_TANK_BALANCE recovery log
// writes; ShouldLogLowBalance implements the 1-hour cooldown for that.
func (m *Manager) CheckLowBalance(ctx context.Context, chainID uint64) (low bool, balance domain.Amount, err error) {
	w, ok := m.wallets[chainID]
	if !ok {
		return false, domain.Amount{}, fmt.Errorf("tank: no wallet configured for chain %d", chainID)
	}
	threshold, err := m.LowTankThreshold(chainID)
	if err != nil {
		return false, domain.Amount{}, err
	}
	raw, err := m.provider.GetBalance(ctx, providerChainTag(chainID), w.Address)
	if err != nil {
		return false, domain.Amount{}, fmt.Errorf("tank: query tank balance: %w", err)
	}
	bal := domain.AmountFromBigInt(raw)
	return bal.Cmp(threshold) < 0, bal, nil
}

// ShouldLogLowBalance reports whether a LOW_TANK_BALANCE recovery log entry
// should be written for chainID right now, enforcing the 1-hour dedup
// cooldown (§11 "Tank low-balance alerting is a recurring recovery
// action ... deduplicated by a 1-hour cooldown"). Call only after
// CheckLowBalance has returned low == true; a true result here also starts
// the cooldown window.
func (m *Manager) ShouldLogLowBalance(chainID uint64, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.lastLowBalance[chainID]
	if ok && now.Sub(last) < m.cooldown {
		return false
	}
	m.lastLowBalance[chainID] = now
	return true
}

// providerChainTag maps a domain chain id to the provider.BlockchainProvider
// chain-id string convention ("ethereum", "bitcoin", ...).
func providerChainTag(chainID uint64) string {
	switch domain.ChainTag(chainID) {
	case "btc":
		return "bitcoin"
	case "eth":
		return "ethereum"
	case "polygon":
		return "polygon"
	case "bsc":
		return "bsc"
	default:
		return "unknown"
	}
}

// EscrowKeySourceFor builds a one-shot signer bound to the tank wallet on
// chainID, using the same (seed, chainID, index) derivation escrows use —
// tank wallets simply reserve index 0.
func EscrowKeySourceFor(mgr *keymanager.Manager, chainID uint64) *keymanager.EscrowKeySource {
	return keymanager.NewEscrowKeySource(mgr, chainID, 0)
}
