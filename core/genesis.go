package core

import (
	"fmt"
	"math/big"

	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// CommitGenesis writes accounts into db and returns the resulting root.
func CommitGenesis(db state.Database, accounts []GenesisAccount) (common.Hash, error) {
	statedb, err := state.New(types.EmptyRootHash, db)
	if err != nil {
		return common.Hash{}, err
	}
	for _, acct := range accounts {
		if acct.Balance != nil {
			balance, overflow := uint256.FromBig((*big.Int)(acct.Balance))
			if overflow {
				return common.Hash{}, fmt.Errorf("genesis balance of %s overflows 256 bits", acct.Address)
			}
			statedb.SetBalance(acct.Address, balance, tracing.BalanceChangeGenesis.Geth())
		}
		statedb.SetNonce(acct.Address, acct.Nonce, tracing.NonceChangeGenesis.Geth())
		if len(acct.Code) > 0 {
			statedb.SetCode(acct.Address, acct.Code)
		}
		for key, value := range acct.Storage {
			statedb.SetState(acct.Address, common.HexToHash(key), common.HexToHash(value))
		}
	}
	return statedb.Commit(0, true, false)
}

// GenesisHeader returns the header of block zero on root.
func GenesisHeader(sel hardfork.Selector, root common.Hash, gasLimit uint64) *types.Header {
	if gasLimit == 0 {
		gasLimit = params.GenesisGasLimit
	}
	fork := sel(0)
	header := &types.Header{
		Number:      new(big.Int),
		Root:        root,
		GasLimit:    gasLimit,
		Difficulty:  new(big.Int),
		UncleHash:   types.EmptyUncleHash,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
	}
	if !hardfork.IsPostMerge(fork) {
		header.Difficulty.Set(params.GenesisDifficulty)
	}
	if hardfork.IsEIP1559(fork) {
		header.BaseFee = big.NewInt(params.InitialBaseFee)
	}
	return header
}
