// erc20.go hand-encodes the ERC-20 entry points the engine and recovery
// manager need outside the broker path: transfer (DIRECT_TRANSFER /
// COMMISSION_TRANSFER on a known/unknown token), approve (the
// broker-allowance PRE_SWAP step, §4.1 step 2), and the read-only
// allowance query the recovery manager's missing-approval repair polls
// (§4.3 step 1, §4.4 "Allowance inspection"). Same manual-ABI approach as
// broker.go — these selectors are standardized by EIP-20 and never
// change, so there is no more a generated binding would buy here than
// for the broker contract.
package ethereum

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	erc20TransferArgs  = mustArgs("address", "uint256")
	erc20ApproveArgs   = mustArgs("address", "uint256")
	erc20AllowanceArgs = mustArgs("address", "address")

	erc20TransferSelector  = methodSelector("transfer(address,uint256)")
	erc20ApproveSelector   = methodSelector("approve(address,uint256)")
	erc20AllowanceSelector = methodSelector("allowance(address,address)")
)

// EncodeERC20Transfer builds calldata for transfer(to, amount).
func EncodeERC20Transfer(to common.Address, amount *big.Int) ([]byte, error) {
	return packWithSelector(erc20TransferSelector, erc20TransferArgs, to, amount)
}

// EncodeERC20Approve builds calldata for approve(spender, amount).
func EncodeERC20Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	return packWithSelector(erc20ApproveSelector, erc20ApproveArgs, spender, amount)
}

// EncodeERC20Allowance builds calldata for the view call allowance(owner, spender).
func EncodeERC20Allowance(owner, spender common.Address) ([]byte, error) {
	return packWithSelector(erc20AllowanceSelector, erc20AllowanceArgs, owner, spender)
}

func packWithSelector(selector []byte, args abi.Arguments, values ...interface{}) ([]byte, error) {
	packed, err := args.Pack(values...)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, selector...), packed...), nil
}
