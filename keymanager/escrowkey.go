package keymanager

import (
	"github.com/otcbroker/broker/chainadapter"
	"github.com/otcbroker/broker/chainadapter/bitcoin"
	"github.com/otcbroker/broker/chainadapter/ethereum"
	"github.com/otcbroker/broker/domain"
)

// EscrowKeySource adapts Manager to chainadapter.KeySource for one fixed
// (chainID, index) escrow, the handle a chain adapter holds to ask for a
// public key without ever seeing private material (§4.5).
type EscrowKeySource struct {
	mgr     *Manager
	chainID uint64
	index   uint64
}

// NewEscrowKeySource binds mgr to a single escrow's derivation coordinates.
func NewEscrowKeySource(mgr *Manager, chainID uint64, index uint64) *EscrowKeySource {
	return &EscrowKeySource{mgr: mgr, chainID: chainID, index: index}
}

func (k *EscrowKeySource) Type() chainadapter.KeySourceType { return chainadapter.KeySourceMnemonic }

// GetPublicKey ignores path: an EscrowKeySource is already bound to one
// fixed derivation, so there is only one key it can ever return.
func (k *EscrowKeySource) GetPublicKey(_ string) ([]byte, error) {
	key, err := k.mgr.derive(domain.Kind(k.chainID), k.index)
	if err != nil {
		return nil, err
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return nil, err
	}
	return pub.SerializeCompressed(), nil
}

// Address returns the escrow address, equivalent to DeriveEscrow(chainID,
// index).Address but without allocating a domain.Escrow.
func (k *EscrowKeySource) Address() (string, error) {
	escrow, err := k.mgr.DeriveEscrow(k.chainID, k.index)
	if err != nil {
		return "", err
	}
	return escrow.Address, nil
}

// Signer materializes a one-shot chainadapter.Signer for this escrow.
// utxoNetwork selects the bitcoin network string ("mainnet", "testnet3",
// "regtest") for UTXO chains; evmChainID supplies EIP-155 replay protection
// for EVM chains. Private key bytes are zeroed as soon as the signer has
// copied what it needs (§4.5 "materialized only for the duration of a
// signing call and then discarded").
func (k *EscrowKeySource) Signer(utxoNetwork string, evmChainID int64) (chainadapter.Signer, error) {
	priv, err := k.mgr.PrivateKeyBytes(k.chainID, k.index)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(priv)

	switch domain.Kind(k.chainID) {
	case domain.ChainKindUTXO:
		return bitcoin.NewBTCDSignerFromPrivateKey(priv, utxoNetwork)
	default:
		return ethereum.NewEthereumSignerFromPrivateKey(priv, evmChainID)
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
