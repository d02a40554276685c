package domain

import (
	"fmt"
	"strings"
)

// AssetShape classifies the commission policy an asset identifier falls
// under, per §3 "Asset identifier" and §4.1 "Commission policy".
type AssetShape int

const (
	// AssetShapeNative is the chain's native coin: "<chain>:NATIVE".
	AssetShapeNative AssetShape = iota
	// AssetShapeKnownToken is a fungible token the operator recognizes by
	// policy tag (commission taken in-kind at the known-asset bps rate).
	AssetShapeKnownToken
	// AssetShapeUnknownToken is an ERC-20/SPL-alike identified solely by
	// contract address (commission taken as fixed USD-equivalent native coin).
	AssetShapeUnknownToken
)

// Asset is a parsed canonical asset identifier: "<chain-tag>:<subtype>[:<token-address>]".
type Asset struct {
	ChainTag     string
	Subtype      string // "NATIVE", a known token tag (e.g. "USDC"), or any other tag
	TokenAddress string // third segment when present; for an unknown tag without one, the tag itself; empty for NATIVE
	raw          string
}

// knownTokenTags enumerates subtypes recognized as known/policy-tagged
// fungible tokens (as opposed to unknown alien tokens identified solely by
// contract address). The set is fixed at compile time.
var knownTokenTags = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
}

// ParseAsset parses the canonical asset identifier grammar of §3.
func ParseAsset(s string) (Asset, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return Asset{}, fmt.Errorf("domain: malformed asset identifier %q", s)
	}
	a := Asset{ChainTag: parts[0], Subtype: parts[1], raw: s}
	if a.ChainTag == "" || a.Subtype == "" {
		return Asset{}, fmt.Errorf("domain: malformed asset identifier %q", s)
	}
	switch {
	case a.Subtype == "NATIVE":
		if len(parts) != 2 {
			return Asset{}, fmt.Errorf("domain: NATIVE asset must not carry a token address: %q", s)
		}
	case knownTokenTags[a.Subtype]:
		if len(parts) == 3 {
			a.TokenAddress = parts[2]
		}
	default:
		// Unknown subtype: treat the subtype itself as the token address for
		// chains that address tokens without a separate policy tag, or
		// require an explicit third segment.
		if len(parts) == 3 {
			a.TokenAddress = parts[2]
		} else {
			a.TokenAddress = a.Subtype
		}
	}
	return a, nil
}

// Shape classifies the asset for commission-policy purposes.
func (a Asset) Shape() AssetShape {
	switch {
	case a.Subtype == "NATIVE":
		return AssetShapeNative
	case knownTokenTags[a.Subtype]:
		return AssetShapeKnownToken
	default:
		return AssetShapeUnknownToken
	}
}

// IsERC20 reports whether this asset needs an allowance/approval step —
// true for any non-native token on an EVM chain.
func (a Asset) IsERC20(chainIsEVM bool) bool {
	return chainIsEVM && a.Shape() != AssetShapeNative
}

func (a Asset) String() string {
	if a.raw != "" {
		return a.raw
	}
	if a.TokenAddress != "" && a.Subtype != a.TokenAddress {
		return fmt.Sprintf("%s:%s:%s", a.ChainTag, a.Subtype, a.TokenAddress)
	}
	return fmt.Sprintf("%s:%s", a.ChainTag, a.Subtype)
}
