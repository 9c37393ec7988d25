package core

import (
	"errors"
	"math/big"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
)

// ExecutionResult is the backend independent outcome of one transaction.
// A reverted or failed execution is a result, not an error.
type ExecutionResult struct {
	TxHash          common.Hash
	UsedGas         uint64
	ReturnData      []byte
	Logs            []*types.Log
	ContractAddress *common.Address
	Err             error  // EVM error, nil on success
	RevertReason    string // decoded Error(string) payload of a revert
	Changes         *vm.ChangeSet

	// Receipt is only set for transactions run inside a block.
	Receipt *types.Receipt
}

// Failed reports whether execution ended in an EVM error.
func (r *ExecutionResult) Failed() bool { return r.Err != nil }

// Reverted reports whether execution ended with REVERT.
func (r *ExecutionResult) Reverted() bool { return errors.Is(r.Err, gethvm.ErrExecutionReverted) }

func newExecutionResult(hash common.Hash, res *vm.Result) *ExecutionResult {
	out := &ExecutionResult{
		TxHash:          hash,
		UsedGas:         res.UsedGas,
		ReturnData:      common.CopyBytes(res.ReturnData),
		Logs:            res.Logs,
		ContractAddress: res.ContractAddress,
		Err:             res.Err,
		Changes:         res.Changes,
	}
	if res.Reverted() {
		if reason, err := abi.UnpackRevert(res.ReturnData); err == nil {
			out.RevertReason = reason
		}
	}
	return out
}

// makeReceipt builds the receipt of the transaction at index txIndex whose
// logs start at block-wide log index logIndex.
func makeReceipt(tx *types.Transaction, res *vm.Result, number uint64, txIndex int, cumulativeGas uint64, logIndex uint) *types.Receipt {
	receipt := &types.Receipt{
		Type:              tx.Type(),
		PostState:         common.CopyBytes(res.PostState),
		CumulativeGasUsed: cumulativeGas,
		TxHash:            tx.Hash(),
		GasUsed:           res.UsedGas,
		TransactionIndex:  uint(txIndex),
	}
	if len(res.PostState) == 0 {
		if res.Failed() {
			receipt.Status = types.ReceiptStatusFailed
		} else {
			receipt.Status = types.ReceiptStatusSuccessful
		}
	}
	if res.ContractAddress != nil {
		receipt.ContractAddress = *res.ContractAddress
	}
	for i, l := range res.Logs {
		l.TxIndex = uint(txIndex)
		l.Index = logIndex + uint(i)
		receipt.Logs = append(receipt.Logs, l)
	}
	receipt.Bloom = types.CreateBloom(receipt)
	receipt.BlockNumber = new(big.Int).SetUint64(number)
	return receipt
}
