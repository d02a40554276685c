package engine

import (
	"fmt"

	"github.com/otcbroker/broker/chainadapter"
	"github.com/otcbroker/broker/chainadapter/provider"
)

// ChainRuntime bundles one chain's adapter with the per-chain thresholds
// and addresses §4.1/§4.4/§6.5 require at settlement-planning time. The
// registry owns one of these per configured chain id.
type ChainRuntime struct {
	ChainID               uint64
	Adapter               chainadapter.ChainAdapter
	Provider              provider.BlockchainProvider
	ProviderChainTag      string // provider's chain-id string, e.g. "ethereum", "bitcoin"
	ConfirmationThreshold int    // settlement confirmation threshold (§4.1 "SWAP")
	CollectionThreshold   int    // same as ConfirmationThreshold unless overridden (§6.5)
	OperatorAddress       string
	BrokerContractAddress string // empty if no broker contract configured for this chain

	// Signing parameters threaded through to keymanager.EscrowKeySource.Signer:
	// the bitcoin network string ("mainnet", "testnet3", "regtest") for UTXO
	// chains, and the EIP-155 chain id for EVM chains. Only the one matching
	// this chain's kind is meaningful.
	UTXONetwork string
	EVMChainID  int64
}

// HasBroker reports whether this chain can use the broker-contract
// settlement path (§4.1 "Broker vs direct").
func (r *ChainRuntime) HasBroker() bool {
	return r.BrokerContractAddress != ""
}

// Registry looks up a ChainRuntime by chain id. Built once at process
// startup from configuration and never mutated afterward, so it is safe
// to share across concurrently-ticking deal workers.
type Registry struct {
	chains map[uint64]*ChainRuntime
}

// NewRegistry builds a Registry from the given runtimes, keyed by their
// own ChainID field.
func NewRegistry(runtimes ...*ChainRuntime) *Registry {
	chains := make(map[uint64]*ChainRuntime, len(runtimes))
	for _, r := range runtimes {
		chains[r.ChainID] = r
	}
	return &Registry{chains: chains}
}

// ChainIDs returns every configured chain id, in no particular order. Used
// by the recovery manager's tank low-balance sweep (§4.6), which has no
// other way to enumerate the deployment's chains.
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the runtime for chainID, or an error if no chain was
// configured for it — an invariant violation per §7 ("queue item
// references unknown deal" class of error: fail loudly).
func (r *Registry) Get(chainID uint64) (*ChainRuntime, error) {
	rt, ok := r.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("engine: no chain runtime configured for chain %d", chainID)
	}
	return rt, nil
}
