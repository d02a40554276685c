// Package broker constructs and signs the operator pre-image that
// authorizes an EVM broker-contract atomic settlement (§6.2), and
// classifies the resulting settlement receipt into swap/fee/refund
// transfers (§6.3). The broker contract itself is an external
// collaborator (§1 non-goal "the broker contract source"); this package
// only produces the off-chain authorization and reads the on-chain result.
package broker

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Message is the canonical operator pre-image for one broker settlement
// call. Field order and widths are fixed by §6.2 and must not change:
// broker(20) || dealId(32) || payback(20) || recipient(20) ||
// feeRecipient(20) || principal(32 BE) || fee(32 BE) || escrow(20).
type Message struct {
	Broker       common.Address
	DealID       [32]byte
	Payback      common.Address
	Recipient    common.Address
	FeeRecipient common.Address
	Principal    *big.Int
	Fee          *big.Int
	Escrow       common.Address
}

// Preimage serializes m in the exact byte order §6.2 specifies.
func (m Message) Preimage() ([]byte, error) {
	if m.Principal == nil || m.Fee == nil {
		return nil, fmt.Errorf("broker: principal and fee must be set")
	}
	if m.Principal.Sign() < 0 || m.Fee.Sign() < 0 {
		return nil, fmt.Errorf("broker: principal and fee must be non-negative")
	}
	if m.Principal.BitLen() > 256 || m.Fee.BitLen() > 256 {
		return nil, fmt.Errorf("broker: principal and fee must fit in 256 bits")
	}

	buf := make([]byte, 0, 20+32+20+20+20+32+32+20)
	buf = append(buf, m.Broker.Bytes()...)
	buf = append(buf, m.DealID[:]...)
	buf = append(buf, m.Payback.Bytes()...)
	buf = append(buf, m.Recipient.Bytes()...)
	buf = append(buf, m.FeeRecipient.Bytes()...)
	buf = append(buf, leftPadTo32(m.Principal)...)
	buf = append(buf, leftPadTo32(m.Fee)...)
	buf = append(buf, m.Escrow.Bytes()...)
	return buf, nil
}

// DealIDBytes32 packs a deal id's 128-bit UUID representation into the
// low 16 bytes of a 32-byte field, left-zero-padded, matching how
// domain.Deal.ID (a uuid.UUID) is referenced on-chain.
func DealIDBytes32(id [16]byte) [32]byte {
	var out [32]byte
	copy(out[16:], id[:])
	return out
}

func leftPadTo32(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
