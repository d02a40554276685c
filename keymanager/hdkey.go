package keymanager

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/otcbroker/broker/domain"
)

// Manager derives every escrow keypair from a single root seed following
// BIP32/BIP44. Escrow index is the only per-escrow state it needs; it never
// retains derived key material after a call returns.
type Manager struct {
	seed    Seed
	utxoNet *chaincfg.Params
}

// NewManager builds a Manager over seed. utxoNetwork selects the chaincfg
// params used for the UTXO chain family ("mainnet", "testnet3", "regtest").
func NewManager(seed Seed, utxoNetwork string) (*Manager, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return nil, fmt.Errorf("keymanager: seed must be 16-64 bytes, got %d", len(seed))
	}
	params, err := utxoParams(utxoNetwork)
	if err != nil {
		return nil, err
	}
	return &Manager{seed: seed, utxoNet: params}, nil
}

func utxoParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("keymanager: unsupported utxo network %q", network)
	}
}

// coinType returns the BIP44 coin type used for a chain family. Escrow
// addresses are never exposed in a wallet UI, so the broker only needs
// family-level separation between the UTXO and EVM derivation trees, not a
// coin type per individual chain.
func coinType(kind domain.ChainKind) uint32 {
	if kind == domain.ChainKindUTXO {
		return 0
	}
	return 60
}

// derivationPath returns the BIP44 child indices for m/44'/coinType'/0'/0/index.
func derivationPath(kind domain.ChainKind, index uint64) []uint32 {
	return []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + coinType(kind),
		hdkeychain.HardenedKeyStart + 0,
		0,
		uint32(index),
	}
}

func (m *Manager) derive(kind domain.ChainKind, index uint64) (*hdkeychain.ExtendedKey, error) {
	master, err := hdkeychain.NewMaster(m.seed, m.utxoNet)
	if err != nil {
		return nil, fmt.Errorf("keymanager: master key: %w", err)
	}
	key := master
	for _, childIndex := range derivationPath(kind, index) {
		key, err = key.Derive(childIndex)
		if err != nil {
			return nil, fmt.Errorf("keymanager: derive child: %w", err)
		}
	}
	return key, nil
}

// DeriveEscrow returns the deterministic, single-use escrow address for
// (chainID, index) without exposing any key material (§4.5 invariant: the
// same seed and index always reproduce the same address).
func (m *Manager) DeriveEscrow(chainID uint64, index uint64) (domain.Escrow, error) {
	kind := domain.Kind(chainID)
	key, err := m.derive(kind, index)
	if err != nil {
		return domain.Escrow{}, err
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return domain.Escrow{}, fmt.Errorf("keymanager: public key: %w", err)
	}

	var addr string
	switch kind {
	case domain.ChainKindUTXO:
		hash := btcutil.Hash160(pub.SerializeCompressed())
		a, err := btcutil.NewAddressWitnessPubKeyHash(hash, m.utxoNet)
		if err != nil {
			return domain.Escrow{}, fmt.Errorf("keymanager: p2wpkh address: %w", err)
		}
		addr = a.EncodeAddress()
	default:
		addr = ethcrypto.PubkeyToAddress(*pub.ToECDSA()).Hex()
	}
	return domain.Escrow{ChainID: chainID, Index: index, Address: addr}, nil
}

// PrivateKeyBytes materializes the raw 32-byte private key for (chainID,
// index) for the duration of a single signing call. Callers must overwrite
// the returned slice once the signer built from it has been constructed;
// Manager itself never retains it.
func (m *Manager) PrivateKeyBytes(chainID uint64, index uint64) ([]byte, error) {
	key, err := m.derive(domain.Kind(chainID), index)
	if err != nil {
		return nil, err
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("keymanager: private key: %w", err)
	}
	return priv.Serialize(), nil
}
