package domain

import "regexp"

// evmAddressRe matches a 20-byte hex address with the conventional 0x
// prefix (§4.2 "cross-chain sanity: fromAddr/toAddr must be
// address-shaped for chainId"). Checksum casing is not verified here —
// that is the chain adapter's concern at build time; this is a cheap
// shape check the recovery manager uses to fail out items that were
// queued against the wrong chain family entirely.
var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// utxoAddressLikeRe rejects the obviously-EVM shape (0x + 40 hex) and
// requires at least a plausible base58/bech32 length; it does not fully
// validate a Bitcoin address (that needs the network's human-readable
// part and checksum, which belongs to the chain adapter), only rules out
// gross cross-chain mismatches.
var utxoAddressLikeRe = regexp.MustCompile(`^[a-zA-Z0-9]{25,90}$`)

// AddressShaped reports whether addr has the address shape expected for
// chainID's chain family (§4.2). It is intentionally permissive — a full
// checksum/bech32 validation belongs to the chain adapter that will
// actually build a transaction against addr — and exists only to catch
// the "UTXO-chain item with an EVM-shaped address" class of malformed
// queue item the recovery manager must fail out rather than retry.
func AddressShaped(chainID uint64, addr string) bool {
	if addr == "" {
		return false
	}
	switch Kind(chainID) {
	case ChainKindEVM:
		return evmAddressRe.MatchString(addr)
	case ChainKindUTXO:
		if evmAddressRe.MatchString(addr) {
			return false
		}
		return utxoAddressLikeRe.MatchString(addr)
	default:
		return false
	}
}
