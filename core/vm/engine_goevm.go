package vm

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

const largeTxGasLimit = 10000000 // 10M gas, to measure the execution time of large txs

type goEngine struct {
	rules *hardfork.Rules
}

// NewEngine returns the go-ethereum interpreter for the chain of config.
// Each execution runs under the rules of the hardfork in its environment.
func NewEngine(config *params.ChainConfig) Engine {
	var chainID uint64
	if config.ChainID != nil {
		chainID = config.ChainID.Uint64()
	}
	return &goEngine{rules: hardfork.NewRules(chainID)}
}

func (e *goEngine) Name() string { return "go-evm" }

func (e *goEngine) GuaranteeTransaction(statedb *state.StateDB, call *CallMetadata) error {
	need, overflow := uint256.FromBig(call.maxCost())
	if overflow {
		return fmt.Errorf("%w: cost of %s overflows 256 bits", ErrInvalidTransaction, call.Hash)
	}
	if statedb.GetBalance(call.From).Cmp(need) < 0 {
		statedb.SetBalance(call.From, need, tracing.BalanceChangeGuarantee.Geth())
	}
	return nil
}

func (e *goEngine) Execute(ctx context.Context, statedb *state.StateDB, env *BlockEnv, call *CallMetadata, opts ExecOptions) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("EVM execution panicked", "tx", call.Hash, "block", env.Number, "err", r)
			res, err = nil, &FaultError{Engine: e.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if call.GasLimit > largeTxGasLimit {
		start := time.Now()
		defer func() {
			if res != nil && res.UsedGas > largeTxGasLimit {
				log.Info("Large tx execution time", "block", env.Number, "tx", call.Hash, "gasUsed", res.UsedGas, "elapsed", time.Since(start))
			}
		}()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAborted, err)
	}
	rec := newRecorder(call.From, env.Coinbase)
	if call.To != nil {
		rec.touch(*call.To)
	}
	hooks := rec.hooks(opts.Tracer)
	rules := e.rules.At(env.Hardfork)

	evm := gethvm.NewEVM(env.BlockContext(opts.GetHash), state.NewHookedState(statedb, hooks), rules, gethvm.Config{
		Tracer:    hooks,
		NoBaseFee: opts.NoBaseFee,
	})
	if opts.Interrupt != nil {
		opts.Interrupt.bind(evm)
	}
	stop := context.AfterFunc(ctx, evm.Cancel)
	defer stop()

	var created *common.Address
	if call.To == nil {
		addr := crypto.CreateAddress(call.From, statedb.GetNonce(call.From))
		created = &addr
		rec.touch(addr)
	}
	gp := opts.GasPool
	if gp == nil {
		gp = new(core.GasPool).AddGas(math.MaxUint64)
	}
	statedb.SetTxContext(call.Hash, opts.TxIndex)

	if t := opts.Tracer; t != nil {
		if t.OnTxStart != nil {
			t.OnTxStart(evm.GetVMContext(), call.Tx, call.From)
		}
		if t.OnTxEnd != nil {
			defer func() {
				var receipt *types.Receipt
				if res != nil {
					receipt = &types.Receipt{GasUsed: res.UsedGas, Status: types.ReceiptStatusSuccessful}
					if res.Failed() {
						receipt.Status = types.ReceiptStatusFailed
					}
				}
				t.OnTxEnd(receipt, err)
			}()
		}
	}
	result, err := core.ApplyMessage(evm, call.Message(env.BaseFee, opts.SkipNonceChecks, opts.SkipFromEOACheck), gp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if evm.Cancelled() || ctx.Err() != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("%w: %w", ErrAborted, cerr)
		}
		return nil, ErrAborted
	}
	if dbErr := statedb.Error(); dbErr != nil {
		return nil, &FaultError{Engine: e.Name(), Err: dbErr}
	}
	number := new(big.Int).SetUint64(env.Number)

	var root []byte
	if rules.IsByzantium(number) {
		evm.StateDB.Finalise(true)
	} else {
		root = statedb.IntermediateRoot(rules.IsEIP158(number)).Bytes()
	}
	if result.Failed() {
		created = nil
	}
	res = &Result{
		UsedGas:         result.UsedGas,
		ReturnData:      common.CopyBytes(result.ReturnData),
		Err:             result.Err,
		Logs:            txLogs(statedb, call.Hash, env.Number),
		ContractAddress: created,
		PostState:       root,
		Changes:         rec.collect(statedb),
	}
	log.Debug("Executed transaction", "engine", e.Name(), "tx", call.Hash, "block", env.Number, "gasUsed", res.UsedGas, "failed", res.Failed(), "touched", res.Changes.Len())
	return res, nil
}

// txLogs returns the logs emitted under hash in emission order.
func txLogs(statedb *state.StateDB, hash common.Hash, number uint64) []*types.Log {
	var logs []*types.Log
	for _, l := range statedb.Logs() {
		if l.TxHash != hash {
			continue
		}
		cpy := *l
		cpy.BlockNumber = number
		logs = append(logs, &cpy)
	}
	return logs
}
