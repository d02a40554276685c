package engine

import (
	"context"
	"math/big"

	"github.com/otcbroker/broker/domain"
)

// isFunded reports whether side's escrow holds at least the advertised
// amount at or above the chain's confirmation threshold (§4.1 "COLLECTION
// -> SWAP"). UTXO chains sum only UTXOs individually meeting the
// confirmation threshold, since each UTXO carries its own confirmation
// count. EVM chains use the RPC-reported balance directly: a provider's
// balance query already reflects confirmed chain-head state, so there is
// no separate per-deposit confirmation count to discount the way there is
// for UTXO outputs.
func (e *Engine) isFunded(ctx context.Context, side domain.Side) (bool, error) {
	rt, err := e.chains.Get(side.ChainID)
	if err != nil {
		return false, err
	}
	asset, err := domain.ParseAsset(side.Asset)
	if err != nil {
		return false, err
	}

	if domain.Kind(side.ChainID) == domain.ChainKindUTXO {
		return e.isFundedUTXO(ctx, rt, side)
	}
	return e.isFundedEVM(ctx, rt, side, asset)
}

func (e *Engine) isFundedUTXO(ctx context.Context, rt *ChainRuntime, side domain.Side) (bool, error) {
	if rt.Provider == nil {
		return false, nil
	}
	utxos, err := rt.Provider.ListUnspent(ctx, rt.ProviderChainTag, side.Escrow.Address)
	if err != nil {
		return false, err
	}

	var confirmed int64
	for _, u := range utxos {
		if u == nil || u.Confirmations < rt.ConfirmationThreshold {
			continue
		}
		confirmed += u.Amount
	}
	want, err := side.Amount.ToUint64Exact()
	if err != nil {
		return false, err
	}
	return confirmed >= 0 && uint64(confirmed) >= want, nil
}

func (e *Engine) isFundedEVM(ctx context.Context, rt *ChainRuntime, side domain.Side, asset domain.Asset) (bool, error) {
	if rt.Provider == nil {
		return false, nil
	}
	var balance *big.Int
	var err error
	if asset.Shape() == domain.AssetShapeNative {
		balance, err = rt.Provider.GetBalance(ctx, rt.ProviderChainTag, side.Escrow.Address)
	} else {
		balance, err = rt.Provider.GetTokenBalance(ctx, rt.ProviderChainTag, side.Escrow.Address, asset.TokenAddress)
	}
	if err != nil {
		return false, err
	}
	return balance.Cmp(side.Amount.BigInt()) >= 0, nil
}
