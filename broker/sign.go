package broker

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is the (r, s, v) triple that authorizes one settlement call.
// This is the only thing that ever leaves OperatorSigner — the key itself
// is never serialized or returned.
type Signature struct {
	R [32]byte
	S [32]byte
	V uint8
}

// Bytes returns the 65-byte r||s||v encoding most EVM precompiles and
// the broker contract's ecrecover call expect.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// OperatorSigner signs broker settlement pre-images with the operator's
// secp256k1 key, applying Ethereum's standard personal-message prefix
// (§6.2 "Signing uses the chain's standard personal-message prefix").
type OperatorSigner struct {
	key *ecdsa.PrivateKey
}

// NewOperatorSigner parses a hex-encoded (with or without "0x") secp256k1
// private key. The decoded key is held only in memory for the lifetime of
// the process; it is never logged or returned by any method.
func NewOperatorSigner(hexKey string) (*OperatorSigner, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("broker: invalid operator key hex: %w", err)
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("broker: invalid operator key: %w", err)
	}
	return &OperatorSigner{key: key}, nil
}

// Address returns the operator's checksummed Ethereum address.
func (o *OperatorSigner) Address() string {
	return crypto.PubkeyToAddress(o.key.PublicKey).Hex()
}

// Sign hashes preimage under the personal-message prefix
// ("\x19Ethereum Signed Message:\n" + len(preimage) + preimage) and signs
// the result. On-chain verification (ecrecover) expects v ∈ {27, 28}, not
// the EIP-155 replay-protected encoding transaction signing uses — this is
// a message signature, not a transaction signature.
func (o *OperatorSigner) Sign(preimage []byte) (Signature, error) {
	hash := accounts_TextHash(preimage)
	sig, err := crypto.Sign(hash, o.key)
	if err != nil {
		return Signature{}, fmt.Errorf("broker: sign settlement message: %w", err)
	}
	if len(sig) != 65 {
		return Signature{}, fmt.Errorf("broker: unexpected signature length %d", len(sig))
	}
	var out Signature
	copy(out.R[:], sig[0:32])
	copy(out.S[:], sig[32:64])
	out.V = sig[64] + 27
	return out, nil
}

// accounts_TextHash reproduces go-ethereum's accounts.TextHash without
// importing the accounts package (which pulls in keystore/scrypt
// dependencies this broker never otherwise needs).
func accounts_TextHash(data []byte) []byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256([]byte(msg))
}
