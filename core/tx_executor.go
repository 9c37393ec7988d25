package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/statebridge"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// prepare translates header and tx into what the engine consumes.
func (a *Adapter) prepare(tx *types.Transaction, header *types.Header, forceBaseFeeZero bool) (*vm.BlockEnv, *vm.CallMetadata, error) {
	env, err := a.translator.Translate(header, forceBaseFeeZero)
	if err != nil {
		return nil, nil, err
	}
	signer := types.MakeSigner(a.rules.At(env.Hardfork), header.Number, header.Time)
	call, err := vm.NewCallMetadata(tx, signer)
	if err != nil {
		return nil, nil, err
	}
	return env, call, nil
}

// DryRun executes tx on a disposable copy of the current state. The sender
// is topped up to afford the transaction and its nonce is not checked.
// With forceBaseFeeZero the fee market is switched off, as call simulation
// and gas estimation expect.
func (a *Adapter) DryRun(ctx context.Context, tx *types.Transaction, header *types.Header, forceBaseFeeZero bool) (*ExecutionResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	start := time.Now()
	defer dryRunTimer.UpdateSince(start)

	env, call, err := a.prepare(tx, header, forceBaseFeeZero)
	if err != nil {
		return nil, err
	}
	scratch, err := a.backend.Scratch()
	if err != nil {
		return nil, err
	}
	if err := a.engine.GuaranteeTransaction(scratch, call); err != nil {
		return nil, err
	}
	interrupt := vm.NewInterrupt()
	res, err := a.engine.Execute(ctx, scratch, env, call, vm.ExecOptions{
		Tracer:           a.tracer.Hooks(interrupt.Abort),
		NoBaseFee:        forceBaseFeeZero,
		SkipNonceChecks:  true,
		SkipFromEOACheck: a.disableEIP3607,
		GetHash:          GetHashFn(header, a.chain),
		Interrupt:        interrupt,
	})
	if err != nil {
		return nil, err
	}
	return newExecutionResult(call.Hash, res), nil
}

// BindBlock binds the open session s to the block described by header
// without running a transaction, as an empty block needs. A session that is
// already bound must describe the same block.
func (a *Adapter) BindBlock(s *Session, header *types.Header) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkSession(s); err != nil {
		return err
	}
	env, err := a.translator.Translate(header, false)
	if err != nil {
		return err
	}
	if err := a.bind(s, env, header); err != nil {
		return err
	}
	s.pinned = true
	return nil
}

// bind sets the environment of s on first use and checks it afterwards.
func (a *Adapter) bind(s *Session, env *vm.BlockEnv, header *types.Header) error {
	if s.env == nil {
		s.env = env
		s.gasPool = new(gethcore.GasPool).AddGas(a.blockGasLimit(header))
		log.Debug("Bound block session", "session", s.id, "number", env.Number, "hardfork", env.Hardfork, "gasLimit", s.gasPool.Gas())
		return nil
	}
	if !s.env.Equal(env) {
		return fmt.Errorf("%w: session %d builds block %d, header describes block %d", ErrSessionMismatch, s.id, s.env.Number, env.Number)
	}
	return nil
}

// RunTxInBlock applies tx to the open session s. The first transaction
// binds the session to the block described by header; later ones must
// describe the same block.
//
// A transaction the chain rules reject is rolled back and its error is
// returned; the session stays open. An engine fault aborts the session and
// rolls the state back to where it started.
func (a *Adapter) RunTxInBlock(ctx context.Context, s *Session, tx *types.Transaction, header *types.Header) (*ExecutionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkSession(s); err != nil {
		return nil, err
	}
	if s.rewarded {
		return nil, fmt.Errorf("%w: session %d", ErrRewardsApplied, s.id)
	}
	env, call, err := a.prepare(tx, header, false)
	if err != nil {
		return nil, err
	}
	if err := a.bind(s, env, header); err != nil {
		return nil, err
	}
	keys := statebridge.AccountKeys(call.From, env.Coinbase)
	if call.To != nil {
		keys = append(keys, statebridge.BatchKey{Address: *call.To})
	}
	for _, tuple := range call.AccessList {
		keys = append(keys, statebridge.BatchKey{Address: tuple.Address})
		for _, slot := range tuple.StorageKeys {
			keys = append(keys, statebridge.BatchKey{Address: tuple.Address, Slot: slot})
		}
	}
	a.backend.Prefetch(keys)

	var (
		txIndex   = len(s.results)
		gasBefore = s.gasPool.Gas()
		interrupt = vm.NewInterrupt()
		opts      = vm.ExecOptions{
			Tracer:           a.tracer.Hooks(interrupt.Abort),
			SkipFromEOACheck: a.disableEIP3607,
			TxIndex:          txIndex,
			GasPool:          s.gasPool,
			GetHash:          GetHashFn(header, a.chain),
			Interrupt:        interrupt,
		}
	)
	res, err := a.backend.Transact(func(sdb *state.StateDB) (*vm.Result, error) {
		return a.engine.Execute(ctx, sdb, env, call, opts)
	})
	if err != nil {
		s.gasPool.SetGas(gasBefore)
		if txIndex == 0 && !s.pinned {
			s.env, s.gasPool = nil, nil
		}
		if errors.Is(err, vm.ErrEngineFault) {
			a.abort(s, err)
			return nil, fmt.Errorf("block session %d aborted: %w", s.id, err)
		}
		txRejectedCounter.Inc(1)
		log.Debug("Rejected transaction", "session", s.id, "tx", call.Hash, "err", err)
		return nil, err
	}
	a.writes++
	s.gasUsed += res.UsedGas

	result := newExecutionResult(call.Hash, res)
	result.Receipt = makeReceipt(tx, res, env.Number, txIndex, s.gasUsed, s.logIndex)
	s.logIndex += uint(len(res.Logs))
	s.results = append(s.results, result)
	s.receipts = append(s.receipts, result.Receipt)

	txAppliedCounter.Inc(1)
	log.Debug("Applied transaction", "session", s.id, "index", txIndex, "tx", call.Hash, "gasUsed", res.UsedGas, "failed", result.Failed())
	return result, nil
}
