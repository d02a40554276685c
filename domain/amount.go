// Package domain defines the core OTC swap broker data model: deals, sides,
// escrows, queue items, events and the asset identifier grammar shared by
// every other package in this module.
package domain

import (
	"fmt"
	"math/big"
)

// Amount is an exact-precision integer quantity expressed in a chain's base
// units (satoshis, wei, ...). It wraps math/big.Int so that settlement math
// never touches a bounded float, per §4.5 and §9 of the design notes.
type Amount struct {
	v *big.Int
}

// ZeroAmount is the additive identity.
func ZeroAmount() Amount { return Amount{v: big.NewInt(0)} }

// AmountFromUint64 builds an Amount from a base-unit uint64 value.
func AmountFromUint64(u uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(u)}
}

// AmountFromBigInt builds an Amount from a big.Int, copying it so later
// mutation of the caller's value cannot alias into the Amount.
func AmountFromBigInt(i *big.Int) Amount {
	if i == nil {
		return ZeroAmount()
	}
	return Amount{v: new(big.Int).Set(i)}
}

// ParseAmount parses a base-10 integer string of base units (no decimal
// point — conversion from a human decimal happens at the API boundary via
// DecimalToBaseUnits).
func ParseAmount(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("domain: invalid integer amount %q", s)
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("domain: amount %q must not be negative", s)
	}
	return Amount{v: v}, nil
}

// BigInt returns the underlying big.Int. Callers must not mutate it.
func (a Amount) BigInt() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return a.v
}

func (a Amount) String() string { return a.BigInt().String() }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.BigInt().Sign() == 0 }

// Cmp compares a to b (-1, 0, 1), mirroring big.Int.Cmp.
func (a Amount) Cmp(b Amount) int { return a.BigInt().Cmp(b.BigInt()) }

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.BigInt(), b.BigInt())}
}

// Sub returns a-b, clamped at zero (settlement math never produces negative
// transfers; callers that need to detect underflow should Cmp first).
func (a Amount) Sub(b Amount) Amount {
	r := new(big.Int).Sub(a.BigInt(), b.BigInt())
	if r.Sign() < 0 {
		return ZeroAmount()
	}
	return Amount{v: r}
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MulBps returns a * bps / 10000, truncating (never rounding up — commission
// must never exceed the bps-exact share of surplus).
func (a Amount) MulBps(bps int64) Amount {
	num := new(big.Int).Mul(a.BigInt(), big.NewInt(bps))
	return Amount{v: num.Div(num, big.NewInt(10000))}
}

// MarshalJSON renders the amount as a base-10 JSON string, matching the
// "exact decimal representation" boundary requirement of §9 — JSON numbers
// are IEEE-754 floats in most consumers, so this module never emits a bare
// JSON number for a settlement amount.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted base-10 string or a bare JSON
// integer literal (for hand-written fixtures), never a fractional literal.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ToUint64Exact returns the value as a uint64, erroring if it does not fit —
// used only at the UTXO wire-serialization boundary (§4.5), never in
// interior settlement arithmetic.
func (a Amount) ToUint64Exact() (uint64, error) {
	if !a.BigInt().IsUint64() {
		return 0, fmt.Errorf("domain: amount %s does not fit in 64 bits", a.String())
	}
	return a.BigInt().Uint64(), nil
}

// SerializeUTXOAmount encodes a base-unit quantity as 8 little-endian bytes,
// split bitwise into a low 32-bit word and a high 32-bit word, per §4.5.
// This is a pure bit operation — there is no intermediate float conversion,
// so it is exact for every value in [0, 2^64-1].
func SerializeUTXOAmount(v uint64) [8]byte {
	var out [8]byte
	low := uint32(v & 0xFFFFFFFF)
	high := uint32(v >> 32)
	out[0] = byte(low)
	out[1] = byte(low >> 8)
	out[2] = byte(low >> 16)
	out[3] = byte(low >> 24)
	out[4] = byte(high)
	out[5] = byte(high >> 8)
	out[6] = byte(high >> 16)
	out[7] = byte(high >> 24)
	return out
}

// DeserializeUTXOAmount is the exact inverse of SerializeUTXOAmount.
func DeserializeUTXOAmount(b [8]byte) uint64 {
	low := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	high := uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	return uint64(low) | uint64(high)<<32
}
