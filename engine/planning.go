package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/chainadapter"
	"github.com/otcbroker/broker/domain"
)

// fallbackGasCost is used only if a chain adapter's Estimate call returns no
// Recommended fee, which none of the wired adapters do in practice; kept as
// a conservative non-zero floor so the gas-funding check never divides by
// or compares against a nil amount.
var fallbackGasCost = big.NewInt(1_000_000_000_000_000) // 0.001 ETH-equivalent, smallest unit

// planSettlement emits the fixed-order queue items for both sides of a
// deal on entering SWAP (§4.1 "Settlement planning"):
//  1. GAS_FUNDING (EVM only, if the escrow lacks gas)
//  2. APPROVAL (ERC-20 + broker configured)
//  3. the principal transfer (BROKER_SWAP or DIRECT_TRANSFER)
//  4. COMMISSION_TRANSFER
//  5. GAS_REFUND_TO_TANK
//
// Ordering within a phase is the emission order (seq, starting at 0);
// across phases PRE_SWAP < SWAP < POST_SWAP (§3/§5). Each side's principal
// transfer is addressed to the *counterparty's* recipient address: Side
// holds the address its owner wants incoming funds sent to, and since
// Alice's escrow pays out Bob's share to Bob, that address is
// counterparty.RecipientAddr, not side.RecipientAddr.
func (e *Engine) planSettlement(ctx context.Context, d *domain.Deal) error {
	seqs := newPhaseSeqAllocator()
	aliceItems, err := e.planSide(ctx, d, d.Alice, d.Bob.RecipientAddr, seqs)
	if err != nil {
		return fmt.Errorf("planSettlement: alice side: %w", err)
	}
	bobItems, err := e.planSide(ctx, d, d.Bob, d.Alice.RecipientAddr, seqs)
	if err != nil {
		return fmt.Errorf("planSettlement: bob side: %w", err)
	}
	items := append(aliceItems, bobItems...)
	if len(items) == 0 {
		return nil
	}
	if err := e.store.CreateQueueItems(ctx, items); err != nil {
		return fmt.Errorf("planSettlement: create queue items: %w", err)
	}
	e.appendEvent(ctx, d.ID, fmt.Sprintf("settlement plan emitted: %d queue items", len(items)))
	return nil
}

// planSide builds the queue items that move one side's deposited principal
// out of escrow to principalRecipient, plus its gas-funding, approval,
// commission, and gas-refund support items. seqs hands out seq values that
// are contiguous from 0 per (dealId, phase) across BOTH sides of the deal
// (§3 "(dealId, phase) seq values are contiguous starting at 0") — it is
// shared with the other side's planSide call by the caller, not
// reconstructed here, so a side's items never reset or collide with the
// other side's items in the same phase.
func (e *Engine) planSide(ctx context.Context, d *domain.Deal, side domain.Side, principalRecipient string, seqs *phaseSeqAllocator) ([]domain.QueueItem, error) {
	rt, err := e.chains.Get(side.ChainID)
	if err != nil {
		return nil, err
	}
	asset, err := domain.ParseAsset(side.Asset)
	if err != nil {
		return nil, err
	}
	isEVM := domain.Kind(side.ChainID) == domain.ChainKindEVM
	useBroker := isEVM && rt.HasBroker()

	var items []domain.QueueItem

	if isEVM {
		estimate, err := e.estimateGasCost(ctx, rt, side)
		if err != nil {
			return nil, fmt.Errorf("estimate gas cost: %w", err)
		}
		needsGas, err := e.tank.NeedsGasFunding(ctx, side.ChainID, side.Escrow.Address, estimate)
		if err != nil {
			return nil, fmt.Errorf("gas funding check: %w", err)
		}
		if needsGas {
			amount, err := e.tank.GasFundingAmount(side.ChainID)
			if err != nil {
				return nil, err
			}
			var tankAddr string
			if w := e.tank.Wallet(side.ChainID); w != nil {
				tankAddr = w.Address
			}
			items = append(items, newQueueItem(d.ID, side.ChainID, domain.PurposeGasFunding, domain.PhasePreSwap, seqs.next(domain.PhasePreSwap), tankAddr, side.Escrow.Address, nativeAsset(side.ChainID), amount))
		}
	}

	if asset.IsERC20(isEVM) && useBroker {
		items = append(items, newQueueItem(d.ID, side.ChainID, domain.PurposeApproval, domain.PhasePreSwap, seqs.next(domain.PhasePreSwap), side.Escrow.Address, rt.BrokerContractAddress, side.Asset, side.Amount))
	}

	principalPurpose := domain.PurposeDirectTransfer
	principalTo := principalRecipient
	if useBroker {
		principalPurpose = domain.PurposeBrokerSwap
		principalTo = rt.BrokerContractAddress
	}
	items = append(items, newQueueItem(d.ID, side.ChainID, principalPurpose, domain.PhaseSwap, seqs.next(domain.PhaseSwap), side.Escrow.Address, principalTo, side.Asset, side.Amount))

	// When the broker contract settles, one atomic call already splits
	// principal/fee/surplus in a single transaction (§4.1 "Broker vs
	// direct" — "one signed atomic call ... splitting to
	// recipient/fee-recipient/payback"); a separate COMMISSION_TRANSFER
	// item would double-pay the operator. The submitter recomputes the
	// same commission figure from e.commissionFor when it builds the
	// broker settlement message, so no state needs threading through here.
	// The direct-transfer path has no such call to ride along with, so it
	// gets its own queue item.
	if !useBroker {
		commission, err := e.commissionFor(ctx, side, asset)
		if err != nil {
			return nil, fmt.Errorf("commission: %w", err)
		}
		commission = clampCommissionToSurplus(commission, side.Amount)
		if !commission.IsZero() {
			commissionAsset := side.Asset
			if asset.Shape() == domain.AssetShapeUnknownToken {
				commissionAsset = nativeAsset(side.ChainID)
			}
			items = append(items, newQueueItem(d.ID, side.ChainID, domain.PurposeCommissionTransfer, domain.PhasePostSwap, seqs.next(domain.PhasePostSwap), side.Escrow.Address, rt.OperatorAddress, commissionAsset, commission))
		}
	}

	if isEVM {
		if w := e.tank.Wallet(side.ChainID); w != nil {
			items = append(items, newQueueItem(d.ID, side.ChainID, domain.PurposeGasRefundToTank, domain.PhasePostSwap, seqs.next(domain.PhasePostSwap), side.Escrow.Address, w.Address, nativeAsset(side.ChainID), domain.ZeroAmount()))
		}
	}

	return items, nil
}

// estimateGasCost asks the chain adapter for its recommended total fee for
// a standard escrow-originated transfer, used to decide whether
// GAS_FUNDING is needed before the real settlement transaction is built.
func (e *Engine) estimateGasCost(ctx context.Context, rt *ChainRuntime, side domain.Side) (*big.Int, error) {
	req := &chainadapter.TransactionRequest{
		From:     side.Escrow.Address,
		To:       side.Escrow.Address, // destination is unknown at planning time; fee shape is what matters
		Asset:    side.Asset,
		Amount:   side.Amount.BigInt(),
		FeeSpeed: chainadapter.FeeSpeedNormal,
	}
	estimate, err := rt.Adapter.Estimate(ctx, req)
	if err != nil {
		return nil, err
	}
	if estimate.Recommended == nil {
		return new(big.Int).Set(fallbackGasCost), nil
	}
	return estimate.Recommended, nil
}

// commissionFor computes the unsurplussed commission due on side (§4.1
// "Commission policy"): bps of principal for known assets, a fixed
// USD-equivalent in native coin for unknown/alien tokens.
func (e *Engine) commissionFor(ctx context.Context, side domain.Side, asset domain.Asset) (domain.Amount, error) {
	if asset.Shape() == domain.AssetShapeUnknownToken {
		return e.commission.CommissionForUnknownAsset(ctx, side.ChainID)
	}
	return e.commission.CommissionForKnownAsset(side.Amount), nil
}

// clampCommissionToSurplus caps commission at the advertised amount at
// planning time. It does not measure the surplus over the advertised
// amount, and the submitter sends the planned COMMISSION_TRANSFER amount
// as is, without re-checking it against the observed escrow balance.
func clampCommissionToSurplus(commission, advertised domain.Amount) domain.Amount {
	// At planning time, observed == advertised is the floor assumption
	// (surplus not yet measured), so commission is already ≤ advertised by
	// construction of the bps/fixed-USD formulas for the vast majority of
	// cases; this clamp only guards against configuration letting bps
	// exceed 10000 (100%).
	return domain.Min(commission, advertised)
}

// enqueueUnilateralRefund handles the COLLECTION -> REVERTED case where
// exactly one side funded before the deadline: that side's principal
// returns to its own payback address, with no commission taken (§4.1 "the
// other side (if funded) is refunded"; S3 "No commission taken").
func (e *Engine) enqueueUnilateralRefund(ctx context.Context, d *domain.Deal, aliceFunded bool) error {
	side := d.Bob
	if aliceFunded {
		side = d.Alice
	}
	item := newQueueItem(d.ID, side.ChainID, domain.PurposeDirectTransfer, domain.PhasePreSwap, 0, side.Escrow.Address, side.PaybackAddr, side.Asset, side.Amount)
	return e.store.CreateQueueItems(ctx, []domain.QueueItem{item})
}

// phaseSeqAllocator hands out monotonic, contiguous-from-zero seq values per
// phase, matching §3's per-(deal, phase) sequencing invariant. One allocator
// is shared across both sides of a single deal's settlement plan, since the
// invariant is scoped to (dealId, phase) and not to either side alone.
type phaseSeqAllocator struct {
	counters map[domain.Phase]int
}

func newPhaseSeqAllocator() *phaseSeqAllocator {
	return &phaseSeqAllocator{counters: make(map[domain.Phase]int)}
}

func (a *phaseSeqAllocator) next(phase domain.Phase) int {
	v := a.counters[phase]
	a.counters[phase] = v + 1
	return v
}

func newQueueItem(dealID uuid.UUID, chainID uint64, purpose domain.QueuePurpose, phase domain.Phase, seq int, from, to, asset string, amount domain.Amount) domain.QueueItem {
	return domain.QueueItem{
		ID:       uuid.New(),
		DealID:   dealID,
		ChainID:  chainID,
		Purpose:  purpose,
		FromAddr: from,
		ToAddr:   to,
		Asset:    asset,
		Amount:   amount,
		Phase:    phase,
		Seq:      seq,
		Status:   domain.QueueStatusPending,
	}
}

func nativeAsset(chainID uint64) string {
	return domain.ChainTag(chainID) + ":NATIVE"
}
