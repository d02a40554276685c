package ethereum

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/otcbroker/broker/broker"
	"github.com/otcbroker/broker/chainadapter/provider"
)

func TestEncodeSettlementCallPrependsSelectorAndPacksArgs(t *testing.T) {
	msg := broker.Message{
		DealID:       broker.DealIDBytes32([16]byte{0x01}),
		Payback:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Recipient:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		FeeRecipient: common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Principal:    big.NewInt(1000),
		Fee:          big.NewInt(3),
		Escrow:       common.HexToAddress("0x5555555555555555555555555555555555555555"),
	}
	sig := broker.Signature{V: 27}

	call, err := EncodeSettlementCall(SettlementSwap, common.HexToAddress("0x1111111111111111111111111111111111111111"), msg, sig)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), call.To)
	require.Len(t, call.Data[:4], 4)
	require.Equal(t, swapViaBrokerSelector, call.Data[:4])
	require.Greater(t, len(call.Data), 4)
}

func TestEncodeSettlementCallSelectorsDiffer(t *testing.T) {
	require.NotEqual(t, swapViaBrokerSelector, revertViaBrokerSelector)
	require.NotEqual(t, swapViaBrokerSelector, refundViaBrokerSelector)
	require.NotEqual(t, revertViaBrokerSelector, refundViaBrokerSelector)
}

func transferLog(token, from, to string, value *big.Int) provider.Log {
	return provider.Log{
		Address: token,
		Topics: []string{
			transferEventTopic,
			"0x" + padLeft(from),
			"0x" + padLeft(to),
		},
		Data: fmt.Sprintf("0x%064x", value),
	}
}

func padLeft(addr string) string {
	a := addr
	if len(a) >= 2 && a[0:2] == "0x" {
		a = a[2:]
	}
	for len(a) < 64 {
		a = "0" + a
	}
	return a
}

func TestClassifySettlementTransfersOrdinalClassification(t *testing.T) {
	token := "0xtoken0000000000000000000000000000000000"
	escrow := "0xescrow000000000000000000000000000000000"
	recipient := "0xrecipient0000000000000000000000000000000"
	operator := "0xoperator00000000000000000000000000000000"
	payback := "0xpayback000000000000000000000000000000000"

	receipt := &provider.TransactionReceipt{
		Logs: []provider.Log{
			transferLog(token, escrow, recipient, big.NewInt(1000)),
			transferLog(token, escrow, operator, big.NewInt(30)),
			transferLog(token, escrow, payback, big.NewInt(5)),
		},
	}

	transfers, err := ClassifySettlementTransfers(receipt, token)
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	require.Equal(t, TransferSwap, transfers[0].Classification)
	require.Equal(t, TransferFee, transfers[1].Classification)
	require.Equal(t, TransferRefund, transfers[2].Classification)
}

func TestClassifySettlementTransfersSkipsZeroValueAndOtherTokens(t *testing.T) {
	token := "0xtoken0000000000000000000000000000000000"
	other := "0xother0000000000000000000000000000000000"
	escrow := "0xescrow000000000000000000000000000000000"
	recipient := "0xrecipient0000000000000000000000000000000"

	receipt := &provider.TransactionReceipt{
		Logs: []provider.Log{
			transferLog(other, escrow, recipient, big.NewInt(999)),
			transferLog(token, escrow, recipient, big.NewInt(0)),
			transferLog(token, escrow, recipient, big.NewInt(1000)),
		},
	}

	transfers, err := ClassifySettlementTransfers(receipt, token)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, TransferSwap, transfers[0].Classification)
}

func TestClassifySettlementTransfersDoesNotFilterByFromBroker(t *testing.T) {
	// Regression guard for §6.3: the broker pulls via allowance so `from`
	// is always the escrow, never the broker contract address itself.
	// Classification must depend only on token + ordinal, not on `from`.
	token := "0xtoken0000000000000000000000000000000000"
	escrow := "0xescrow0000000000000000000000000000000000"
	recipient := "0xrecipient0000000000000000000000000000000"

	receipt := &provider.TransactionReceipt{
		Logs: []provider.Log{
			transferLog(token, escrow, recipient, big.NewInt(42)),
		},
	}

	transfers, err := ClassifySettlementTransfers(receipt, token)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, escrow, transfers[0].From)
}
