// Package keymanager derives every escrow keypair the broker uses from a
// single root seed (§4.5). It is the only place in the process that ever
// touches raw private key material, and it never persists any.
package keymanager

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// GenerateMnemonic returns a fresh BIP39 mnemonic with the requested word
// count (12 or 24), the same entropy-then-encode sequence the teacher's
// bip39 service used.
func GenerateMnemonic(wordCount int) (string, error) {
	var entropyBits int
	switch wordCount {
	case 12:
		entropyBits = 128
	case 24:
		entropyBits = 256
	default:
		return "", fmt.Errorf("keymanager: word count must be 12 or 24, got %d", wordCount)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("keymanager: generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic checks wordlist membership and checksum.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("keymanager: invalid mnemonic")
	}
	return nil
}

// Seed is the 64-byte BIP39 seed every escrow key is derived from. It is
// configured once at process start (§6.5) and lives only in process memory.
type Seed []byte

// SeedFromMnemonic validates mnemonic and derives its seed via PBKDF2
// (BIP39, 2048 rounds). passphrase may be empty.
func SeedFromMnemonic(mnemonic, passphrase string) (Seed, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	return bip39.NewSeed(mnemonic, passphrase), nil
}
