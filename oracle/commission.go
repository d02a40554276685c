package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/otcbroker/broker/domain"
)

// Policy computes the commission owed on one side of a deal (§4.5,
// "Commission policy"): known assets are priced by basis points of the
// observed amount; unknown ERC-20 / alien tokens are priced as a fixed
// USD-equivalent paid in the chain's native coin, looked up via a
// NativeUSDRateSource. Policy's methods return the commission before any
// cap; SurplusOnlyCommission separately computes the surplus-only cap,
// max(0, observed - advertised) (§8 invariant 4).
type Policy struct {
	KnownAssetBps int64
	FixedUSDRate  float64 // dollars, e.g. 10 for "$10"
	Rates         NativeUSDRateSource
}

// CommissionForKnownAsset returns observed's bps-based commission, before
// the surplus-only clamp is applied by the caller.
func (p Policy) CommissionForKnownAsset(observed domain.Amount) domain.Amount {
	return observed.MulBps(p.KnownAssetBps)
}

// CommissionForUnknownAsset returns the fixed-USD commission for chainID,
// expressed in that chain's native smallest unit, before the surplus-only
// clamp. The USD amount is a small fixed constant (§4.5 "e.g., $10"), so
// converting it via a float multiply against an integer native-per-USD
// rate and truncating to an integer is acceptable here — unlike principal
// or fee settlement math, this number is advisory input to the oracle
// lookup, not a ledger balance.
func (p Policy) CommissionForUnknownAsset(ctx context.Context, chainID uint64) (domain.Amount, error) {
	if p.Rates == nil {
		return domain.Amount{}, fmt.Errorf("oracle: no rate source configured")
	}
	perUSD, err := p.Rates.NativeUnitsPerUSD(ctx, chainID)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("oracle: lookup native rate: %w", err)
	}
	if p.FixedUSDRate <= 0 {
		return domain.ZeroAmount(), nil
	}
	// perUSD (native smallest-unit per dollar) is an integer ledger value;
	// FixedUSDRate is a small configured dollar constant, not settlement
	// math, so a one-off big.Float multiply here is fine — the result is
	// converted straight back to an integer domain.Amount.
	result := new(big.Float).Mul(
		new(big.Float).SetInt(perUSD.BigInt()),
		big.NewFloat(p.FixedUSDRate),
	)
	out, _ := result.Int(nil)
	return domain.AmountFromBigInt(out), nil
}

// SurplusOnlyCommission clamps commission to the surplus between observed
// and advertised, implementing §4.5 "Commission is paid from surplus only;
// a recipient transfer amount is never reduced to cover commission."
func SurplusOnlyCommission(commission, observed, advertised domain.Amount) domain.Amount {
	surplus := observed.Sub(advertised) // Sub clamps at zero
	return domain.Min(commission, surplus)
}
