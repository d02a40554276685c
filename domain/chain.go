package domain

// ChainKind distinguishes the two plugin families the broker core consumes
// (§1 "one side is always a UTXO chain ... the other may be ... any
// account-based chain").
type ChainKind string

const (
	ChainKindUTXO ChainKind = "utxo"
	ChainKindEVM  ChainKind = "evm"
)

// Well-known chain ids used by tests and default configuration. Production
// deployments assign chain ids via config (§6.5); these are stable
// conventional values so fixtures and examples have something concrete to
// reference.
const (
	ChainIDBitcoin        uint64 = 0
	ChainIDBitcoinTestnet uint64 = 1
	ChainIDEthereum       uint64 = 1_0001
	ChainIDEthereumSepolia uint64 = 1_0002
	ChainIDPolygon        uint64 = 1_0137
	ChainIDBSC            uint64 = 1_0056
)

// ChainTag maps a chain id to the tag used in asset identifiers (§3).
func ChainTag(chainID uint64) string {
	switch chainID {
	case ChainIDBitcoin, ChainIDBitcoinTestnet:
		return "btc"
	case ChainIDEthereum, ChainIDEthereumSepolia:
		return "eth"
	case ChainIDPolygon:
		return "polygon"
	case ChainIDBSC:
		return "bsc"
	default:
		return "unknown"
	}
}

// Kind reports whether a chain id belongs to the UTXO or EVM family.
func Kind(chainID uint64) ChainKind {
	switch chainID {
	case ChainIDBitcoin, ChainIDBitcoinTestnet:
		return ChainKindUTXO
	default:
		return ChainKindEVM
	}
}
