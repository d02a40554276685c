package engine

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otcbroker/broker/broker"
	"github.com/otcbroker/broker/chainadapter"
	"github.com/otcbroker/broker/chainadapter/ethereum"
	"github.com/otcbroker/broker/domain"
	"github.com/otcbroker/broker/keymanager"
)

const tankIndex = 0 // §4.6: tank wallets always derive at index 0, escrows start at 1

// submitReady builds and broadcasts every PENDING item whose predecessors
// (by (phase, seq), within the same chain) are all CONFIRMED (§4.1 "will
// not submit an item until all earlier items for (deal, chain) are
// CONFIRMED"). Items on different chains advance independently: Alice's
// and Bob's settlement plans never block each other.
func (e *Engine) submitReady(ctx context.Context, d *domain.Deal, items []domain.QueueItem) error {
	byChain := make(map[uint64][]domain.QueueItem)
	for _, it := range items {
		byChain[it.ChainID] = append(byChain[it.ChainID], it)
	}
	for chainID, chainItems := range byChain {
		sort.SliceStable(chainItems, func(i, j int) bool { return domain.Less(chainItems[i], chainItems[j]) })
		for i := range chainItems {
			it := chainItems[i]
			if it.Status != domain.QueueStatusPending {
				continue
			}
			if !domain.ReadyAfter(chainItems[:i]) {
				break
			}
			if err := e.submitItem(ctx, d, &it); err != nil {
				e.log.Warnf("engine: submit item %s (chain %d, purpose %s): %v", it.ID, chainID, it.Purpose, err)
				break // preserve ordering: don't try a later item on this chain this tick
			}
		}
	}
	return nil
}

func (e *Engine) submitItem(ctx context.Context, d *domain.Deal, it *domain.QueueItem) error {
	rt, err := e.chains.Get(it.ChainID)
	if err != nil {
		return e.failItem(ctx, it, fmt.Sprintf("no chain runtime: %v", err))
	}

	req, signerIndex, err := e.buildRequest(ctx, rt, d, it)
	if err != nil {
		if chainadapter.IsNonRetryable(err) {
			return e.failItem(ctx, it, err.Error())
		}
		return fmt.Errorf("build request: %w", err)
	}

	signer, err := e.signerFor(rt, it.FromAddr, signerIndex)
	if err != nil {
		return fmt.Errorf("resolve signer: %w", err)
	}

	unsigned, err := rt.Adapter.Build(ctx, req)
	if err != nil {
		if chainadapter.IsNonRetryable(err) {
			return e.failItem(ctx, it, err.Error())
		}
		return fmt.Errorf("adapter build: %w", err)
	}
	signed, err := rt.Adapter.Sign(ctx, unsigned, signer)
	if err != nil {
		return fmt.Errorf("adapter sign: %w", err)
	}
	receipt, err := rt.Adapter.Broadcast(ctx, signed)
	if err != nil {
		if chainadapter.IsNonRetryable(err) {
			return e.failItem(ctx, it, err.Error())
		}
		return fmt.Errorf("adapter broadcast: %w", err)
	}

	it.Submitted = &domain.SubmittedTx{TxID: receipt.TxHash, SubmittedAt: time.Now()}
	it.Status = domain.QueueStatusSubmitted
	if err := e.store.UpdateQueueItem(ctx, it); err != nil {
		return fmt.Errorf("persist submission: %w", err)
	}
	e.appendEvent(ctx, d.ID, fmt.Sprintf("submitted %s on chain %d: %s", it.Purpose, it.ChainID, receipt.TxHash))
	return nil
}

// buildRequest turns a queue item into a TransactionRequest, returning the
// keymanager derivation index that should sign it (the escrow's own index,
// or tankIndex for a tank-originated GAS_FUNDING item).
func (e *Engine) buildRequest(ctx context.Context, rt *ChainRuntime, d *domain.Deal, it *domain.QueueItem) (*chainadapter.TransactionRequest, uint64, error) {
	asset, err := domain.ParseAsset(it.Asset)
	if err != nil {
		return nil, 0, chainadapter.NewNonRetryableError(chainadapter.ErrCodeUnsupportedAsset, err.Error(), err)
	}
	isEVM := domain.Kind(it.ChainID) == domain.ChainKindEVM
	signerIndex, err := e.escrowIndexFor(d, it)
	if err != nil {
		return nil, 0, err
	}

	switch it.Purpose {
	case domain.PurposeApproval:
		data, err := ethereum.EncodeERC20Approve(common.HexToAddress(it.ToAddr), it.Amount.BigInt())
		if err != nil {
			return nil, 0, err
		}
		return evmCallRequest(it.FromAddr, asset.TokenAddress, big.NewInt(0), data), signerIndex, nil

	case domain.PurposeBrokerSwap:
		return e.buildBrokerRequest(ctx, rt, d, it, asset, isEVM)

	case domain.PurposeGasRefundToTank:
		// Amount is a planning-time placeholder (§4.6 "returns residual
		// native balance less its own fee"); the real amount is whatever
		// native balance the escrow holds right now, minus the adapter's
		// own fee estimate.
		balance, err := rt.Provider.GetBalance(ctx, rt.ProviderChainTag, it.FromAddr)
		if err != nil {
			return nil, 0, err
		}
		fee, err := e.estimateGasCost(ctx, rt, domain.Side{ChainID: it.ChainID, Escrow: domain.Escrow{Address: it.FromAddr}})
		if err != nil {
			return nil, 0, err
		}
		residual := new(big.Int).Sub(balance, fee)
		if residual.Sign() <= 0 {
			return nil, 0, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInsufficientFunds, "nothing left to refund to tank after fee", nil)
		}
		return &chainadapter.TransactionRequest{From: it.FromAddr, To: it.ToAddr, Asset: nativeAssetTag(isEVM), Amount: residual, FeeSpeed: chainadapter.FeeSpeedNormal}, signerIndex, nil

	default: // DIRECT_TRANSFER, GAS_FUNDING, COMMISSION_TRANSFER
		if isEVM && asset.Shape() != domain.AssetShapeNative {
			data, err := ethereum.EncodeERC20Transfer(common.HexToAddress(it.ToAddr), it.Amount.BigInt())
			if err != nil {
				return nil, 0, err
			}
			return evmCallRequest(it.FromAddr, asset.TokenAddress, big.NewInt(0), data), signerIndex, nil
		}
		return &chainadapter.TransactionRequest{From: it.FromAddr, To: it.ToAddr, Asset: nativeAssetTag(isEVM), Amount: it.Amount.BigInt(), FeeSpeed: chainadapter.FeeSpeedNormal}, signerIndex, nil
	}
}

// buildBrokerRequest encodes the atomic broker settlement call: escrow
// sends native value (or, for an ERC-20 side, zero value riding on an
// already-granted approval) to the broker contract together with the
// operator-signed authorization (§6.2).
func (e *Engine) buildBrokerRequest(ctx context.Context, rt *ChainRuntime, d *domain.Deal, it *domain.QueueItem, asset domain.Asset, isEVM bool) (*chainadapter.TransactionRequest, uint64, error) {
	side := d.SideByEscrow(it.FromAddr)
	if side == nil {
		return nil, 0, fmt.Errorf("buildBrokerRequest: no side owns escrow %s", it.FromAddr)
	}
	commission, err := e.commissionFor(ctx, *side, asset)
	if err != nil {
		return nil, 0, err
	}
	commission = clampCommissionToSurplus(commission, side.Amount)

	dealBytes := d.ID
	msg := broker.Message{
		Broker:       common.HexToAddress(rt.BrokerContractAddress),
		DealID:       broker.DealIDBytes32(dealBytes),
		Payback:      common.HexToAddress(side.PaybackAddr),
		Recipient:    common.HexToAddress(it.ToAddr),
		FeeRecipient: common.HexToAddress(rt.OperatorAddress),
		Principal:    it.Amount.BigInt(),
		Fee:          commission.BigInt(),
		Escrow:       common.HexToAddress(it.FromAddr),
	}
	preimage, err := msg.Preimage()
	if err != nil {
		return nil, 0, err
	}
	sig, err := e.signer.Sign(preimage)
	if err != nil {
		return nil, 0, err
	}
	call, err := ethereum.EncodeSettlementCall(ethereum.SettlementSwap, msg.Broker, msg, sig)
	if err != nil {
		return nil, 0, err
	}

	value := big.NewInt(0)
	if asset.Shape() == domain.AssetShapeNative {
		value = it.Amount.BigInt()
	}
	signerIndex, err := e.escrowIndexFor(d, it)
	if err != nil {
		return nil, 0, err
	}
	return evmCallRequest(it.FromAddr, call.To.Hex(), value, call.Data), signerIndex, nil
}

// evmCallRequest builds an EVM call carrying arbitrary calldata, with
// value riding alongside it (zero for pure calls like ERC-20
// transfer/approve, non-zero for a broker call forwarding native
// principal). The ethereum builder only reads req.Memo for its data field
// (it has no ERC-20 or generic-calldata awareness of its own), so calldata
// travels as a raw string conversion of the encoded bytes — exact, since
// Go string/[]byte conversions never transcode.
func evmCallRequest(from, to string, value *big.Int, data []byte) *chainadapter.TransactionRequest {
	return &chainadapter.TransactionRequest{
		From:     from,
		To:       to,
		Asset:    "ETH",
		Amount:   value,
		Memo:     string(data),
		FeeSpeed: chainadapter.FeeSpeedNormal,
	}
}

func nativeAssetTag(isEVM bool) string {
	if isEVM {
		return "ETH"
	}
	return "BTC"
}

// escrowIndexFor resolves which keymanager derivation index must sign a
// queue item: the side's own escrow index, or the tank's fixed index-0 key
// when the item originates from the tank (GAS_FUNDING).
func (e *Engine) escrowIndexFor(d *domain.Deal, it *domain.QueueItem) (uint64, error) {
	if side := d.SideByEscrow(it.FromAddr); side != nil {
		return side.Escrow.Index, nil
	}
	if w := e.tank.Wallet(it.ChainID); w != nil && w.Address == it.FromAddr {
		return tankIndex, nil
	}
	return 0, fmt.Errorf("escrowIndexFor: %s is neither a known escrow nor the tank wallet", it.FromAddr)
}

func (e *Engine) signerFor(rt *ChainRuntime, address string, index uint64) (chainadapter.Signer, error) {
	src := keymanager.NewEscrowKeySource(e.keys, rt.ChainID, index)
	return src.Signer(rt.UTXONetwork, rt.EVMChainID)
}

// failItem marks a queue item FAILED with a self-describing, non-retried
// error (§7 "Deterministic misuse ... FAILED immediately, no retry").
func (e *Engine) failItem(ctx context.Context, it *domain.QueueItem, reason string) error {
	it.Status = domain.QueueStatusFailed
	it.RecoveryError = reason
	now := time.Now()
	it.LastRecoveryAt = &now
	if err := e.store.UpdateQueueItem(ctx, it); err != nil {
		return fmt.Errorf("failItem: persist: %w", err)
	}
	e.log.Warnf("engine: queue item %s FAILED: %s", it.ID, reason)
	return nil
}
