// Package ethereum's broker.go encodes calls into the external broker
// contract and classifies its settlement receipts (§6.2, §6.3). The
// contract's source and ABI JSON are out of scope (§1 non-goal "the broker
// contract source"); only the three call signatures and the Transfer event
// topic this process depends on are declared here, by hand, in the manner
// certenIO-certen-validator/pkg/execution/cross_contract_verification.go
// builds narrow accounts/abi.Arguments sets instead of loading a full ABI.
package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/otcbroker/broker/broker"
	"github.com/otcbroker/broker/chainadapter/provider"
)

// transferEventTopic is keccak256("Transfer(address,address,uint256)"), the
// standard ERC-20 Transfer event signature every broker settlement call
// emits at least twice (principal, commission) and sometimes three times
// (plus surplus refund).
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("broker: bad abi type %q: %v", t, err))
		}
		args[i] = abi.Argument{Type: ty}
	}
	return args
}

// settlementArgs is the ABI argument list shared by the broker contract's
// three settlement entry points, in the order §6.2's pre-image
// fixes: dealId, payback, recipient, feeRecipient, principal, fee, escrow,
// then the operator signature bytes.
var (
	settlementArgs = mustArgs("bytes32", "address", "address", "address", "address", "uint256", "uint256", "address", "bytes")

	swapViaBrokerSelector    = methodSelector("swapViaBroker(bytes32,address,address,address,address,uint256,uint256,address,bytes)")
	revertViaBrokerSelector  = methodSelector("revertViaBroker(bytes32,address,address,address,address,uint256,uint256,address,bytes)")
	refundViaBrokerSelector  = methodSelector("refundViaBroker(bytes32,address,address,address,address,uint256,uint256,address,bytes)")
)

func methodSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// SettlementCall is a fully ABI-encoded broker contract invocation, ready
// to be placed in a TransactionRequest's ChainSpecific "data" field.
type SettlementCall struct {
	To   common.Address
	Data []byte
}

// SettlementKind selects which of the broker contract's three entry points
// to call. Swap pays the recipient the agreed principal; Revert returns
// everything to payback (used before SWAP-phase submission begins);
// Refund is the surplus-only path used once a swap has already settled.
type SettlementKind int

const (
	SettlementSwap SettlementKind = iota
	SettlementRevert
	SettlementRefund
)

func (k SettlementKind) selector() []byte {
	switch k {
	case SettlementSwap:
		return swapViaBrokerSelector
	case SettlementRevert:
		return revertViaBrokerSelector
	case SettlementRefund:
		return refundViaBrokerSelector
	default:
		panic("broker: unknown settlement kind")
	}
}

// EncodeSettlementCall ABI-encodes one of the broker contract's settlement
// entry points over msg, authorized by sig (§6.2). The resulting calldata
// is the only thing that needs to reach the chain; msg and sig together
// are the full authorization the contract's ecrecover checks against.
func EncodeSettlementCall(kind SettlementKind, brokerAddr common.Address, msg broker.Message, sig broker.Signature) (SettlementCall, error) {
	packed, err := settlementArgs.Pack(
		msg.DealID,
		msg.Payback,
		msg.Recipient,
		msg.FeeRecipient,
		msg.Principal,
		msg.Fee,
		msg.Escrow,
		sig.Bytes(),
	)
	if err != nil {
		return SettlementCall{}, fmt.Errorf("broker: encode settlement call: %w", err)
	}
	data := append(append([]byte{}, kind.selector()...), packed...)
	return SettlementCall{To: brokerAddr, Data: data}, nil
}

// TransferClassification labels one ERC-20 (or native-value) transfer
// pulled out of a settlement receipt.
type TransferClassification string

const (
	TransferSwap   TransferClassification = "swap"   // principal to recipient
	TransferFee    TransferClassification = "fee"    // commission to operator
	TransferRefund TransferClassification = "refund" // surplus to payback
)

// ClassifiedTransfer is one Transfer log from a settlement receipt together
// with its §6.3 ordinal classification.
type ClassifiedTransfer struct {
	LogIndex       int
	From           string
	To             string
	Value          *big.Int
	Classification TransferClassification
}

// ClassifySettlementTransfers implements §6.3: Transfer events in a
// settlement receipt, filtered by tokenAddress and value > 0, are
// classified purely by ordinal position — index 0 is the swap, index 1 is
// the fee, index 2+ is refund. This must NOT filter by from == broker: the
// broker pulls funds via allowance, so from is the escrow address, not the
// broker contract. An empty tokenAddress matches native-value transfers
// represented as synthetic Transfer-shaped logs by the provider.
func ClassifySettlementTransfers(receipt *provider.TransactionReceipt, tokenAddress string) ([]ClassifiedTransfer, error) {
	if receipt == nil {
		return nil, fmt.Errorf("broker: nil receipt")
	}
	token := strings.ToLower(tokenAddress)

	var out []ClassifiedTransfer
	for i, log := range receipt.Logs {
		if !strings.EqualFold(log.Address, token) {
			continue
		}
		if len(log.Topics) != 3 || !strings.EqualFold(log.Topics[0], transferEventTopic) {
			continue
		}
		value, ok := new(big.Int).SetString(strings.TrimPrefix(log.Data, "0x"), 16)
		if !ok {
			return nil, fmt.Errorf("broker: malformed transfer value in log %d", i)
		}
		if value.Sign() <= 0 {
			continue
		}

		var kind TransferClassification
		switch len(out) {
		case 0:
			kind = TransferSwap
		case 1:
			kind = TransferFee
		default:
			kind = TransferRefund
		}
		out = append(out, ClassifiedTransfer{
			LogIndex:       i,
			From:           topicToAddress(log.Topics[1]),
			To:             topicToAddress(log.Topics[2]),
			Value:          value,
			Classification: kind,
		})
	}
	return out, nil
}

// topicToAddress extracts the low 20 bytes of a 32-byte indexed address
// topic.
func topicToAddress(topic string) string {
	h := strings.TrimPrefix(topic, "0x")
	if len(h) < 40 {
		return "0x" + h
	}
	return "0x" + h[len(h)-40:]
}
