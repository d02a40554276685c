// Package oracle provides the native-USD rate lookup the commission policy
// needs for unknown ERC-20 / alien-token sides (§9 Open Question b: "Exact
// USD oracle source for FIXED_USD_NATIVE commission is not fixed in the
// source; implementations must make it a pluggable adapter with a fallback
// constant."). No live HTTP price feed is implemented here — that would be
// an external collaborator — but the seam is real and exercised.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/otcbroker/broker/domain"
)

// NativeUSDRateSource answers "how much of this chain's native coin is one
// US dollar worth right now", in the coin's smallest unit per dollar. The
// engine uses this only for the FIXED_USD_NATIVE commission leg (unknown
// ERC-20 / alien token sides); known assets are priced by bps, never by
// this interface.
type NativeUSDRateSource interface {
	// NativeUnitsPerUSD returns how many of chainID's smallest native unit
	// (wei, satoshi, ...) equal one US dollar.
	NativeUnitsPerUSD(ctx context.Context, chainID uint64) (domain.Amount, error)
}

// FixedRateOracle is the always-available fallback: a single configured
// rate per chain, read from CommissionConfig at startup. It never errors
// for a configured chain and never calls out to the network, matching
// §9(b)'s "fallback constant".
type FixedRateOracle struct {
	mu    sync.RWMutex
	rates map[uint64]domain.Amount
}

// NewFixedRateOracle builds a FixedRateOracle from a chainID -> native
// units-per-USD map, typically seeded once at startup from configuration.
func NewFixedRateOracle(rates map[uint64]domain.Amount) *FixedRateOracle {
	copied := make(map[uint64]domain.Amount, len(rates))
	for k, v := range rates {
		copied[k] = v
	}
	return &FixedRateOracle{rates: copied}
}

// NativeUnitsPerUSD implements NativeUSDRateSource.
func (o *FixedRateOracle) NativeUnitsPerUSD(_ context.Context, chainID uint64) (domain.Amount, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rate, ok := o.rates[chainID]
	if !ok {
		return domain.Amount{}, fmt.Errorf("oracle: no fixed rate configured for chain %d", chainID)
	}
	return rate, nil
}

// SetRate updates the rate for chainID, allowing an operator to correct a
// stale fixed rate without a process restart.
func (o *FixedRateOracle) SetRate(chainID uint64, rate domain.Amount) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rates[chainID] = rate
}

// StaticTableOracle reads rates from an in-memory table that is refreshed
// out of band (e.g. by a sidecar process rewriting the table on a timer).
// This is the seam §9(b) calls for ("implementations must make it a
// pluggable adapter") without committing to any specific live price feed;
// wiring an actual HTTP oracle is an external collaborator's job.
type StaticTableOracle struct {
	mu       sync.RWMutex
	table    map[uint64]domain.Amount
	fallback NativeUSDRateSource
}

// NewStaticTableOracle builds a StaticTableOracle backed by an initial
// table and a fallback source (typically a FixedRateOracle) consulted when
// the table has no entry for a chain — so a cold or partially-populated
// table degrades to a configured constant rather than failing deals.
func NewStaticTableOracle(table map[uint64]domain.Amount, fallback NativeUSDRateSource) *StaticTableOracle {
	copied := make(map[uint64]domain.Amount, len(table))
	for k, v := range table {
		copied[k] = v
	}
	return &StaticTableOracle{table: copied, fallback: fallback}
}

// Refresh atomically replaces the table, e.g. after reloading it from the
// configured OracleTablePath.
func (o *StaticTableOracle) Refresh(table map[uint64]domain.Amount) {
	copied := make(map[uint64]domain.Amount, len(table))
	for k, v := range table {
		copied[k] = v
	}
	o.mu.Lock()
	o.table = copied
	o.mu.Unlock()
}

// NativeUnitsPerUSD implements NativeUSDRateSource.
func (o *StaticTableOracle) NativeUnitsPerUSD(ctx context.Context, chainID uint64) (domain.Amount, error) {
	o.mu.RLock()
	rate, ok := o.table[chainID]
	o.mu.RUnlock()
	if ok {
		return rate, nil
	}
	if o.fallback == nil {
		return domain.Amount{}, fmt.Errorf("oracle: no table entry or fallback for chain %d", chainID)
	}
	return o.fallback.NativeUnitsPerUSD(ctx, chainID)
}

var (
	_ NativeUSDRateSource = (*FixedRateOracle)(nil)
	_ NativeUSDRateSource = (*StaticTableOracle)(nil)
)
