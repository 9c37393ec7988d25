package core

import (
	"context"
	"fmt"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// StateProcessor re-executes the transactions of an already built block on
// a given state, for tracing.
type StateProcessor struct {
	rules      *hardfork.Rules
	translator *vm.Translator
	engine     vm.Engine
	chain      ChainReader

	skipFromEOACheck bool
}

// NewStateProcessor initialises a new StateProcessor.
// Senders with code are accepted when skipFromEOACheck is set.
func NewStateProcessor(rules *hardfork.Rules, translator *vm.Translator, engine vm.Engine, chain ChainReader, skipFromEOACheck bool) *StateProcessor {
	return &StateProcessor{
		rules:            rules,
		translator:       translator,
		engine:           engine,
		chain:            chain,
		skipFromEOACheck: skipFromEOACheck,
	}
}

// Replay executes the transactions of block in order on statedb. The
// transaction at index upto runs with tracer attached and is the last one
// executed; its result is returned.
func (p *StateProcessor) Replay(ctx context.Context, block *types.Block, statedb *state.StateDB, upto int, tracer *gethtracing.Hooks) (*vm.Result, error) {
	txs := block.Transactions()
	if upto < 0 || upto >= len(txs) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrTransactionNotFound, upto, len(txs))
	}
	var (
		header  = block.Header()
		gasPool = new(gethcore.GasPool).AddGas(header.GasLimit)
		getHash = GetHashFn(header, p.chain)
	)
	if header.GasLimit == 0 {
		gasPool.SetGas(maxBlockGas)
	}
	env, err := p.translator.Translate(header, false)
	if err != nil {
		return nil, err
	}
	signer := types.MakeSigner(p.rules.At(env.Hardfork), header.Number, header.Time)
	for i, tx := range txs[:upto+1] {
		call, err := vm.NewCallMetadata(tx, signer)
		if err != nil {
			return nil, fmt.Errorf("could not apply tx %d [%v]: %w", i, tx.Hash().Hex(), err)
		}
		opts := vm.ExecOptions{TxIndex: i, GasPool: gasPool, GetHash: getHash, SkipFromEOACheck: p.skipFromEOACheck}
		if i == upto {
			opts.Tracer = tracer
		}
		res, err := p.engine.Execute(ctx, statedb, env, call, opts)
		if err != nil {
			return nil, fmt.Errorf("could not apply tx %d [%v]: %w", i, tx.Hash().Hex(), err)
		}
		if i == upto {
			return res, nil
		}
	}
	return nil, nil
}

// TraceTransaction re-executes the transaction hash of block with a struct
// tracer attached. Earlier transactions of the block are replayed first on
// the state of the parent block, or on a copy of the current state when the
// parent is unknown.
func (a *Adapter) TraceTransaction(ctx context.Context, hash common.Hash, block *types.Block, cfg *tracing.TraceConfig) (*tracing.TraceResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	index := -1
	for i, tx := range block.Transactions() {
		if tx.Hash() == hash {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: %x in block %d", ErrTransactionNotFound, hash, block.NumberU64())
	}
	statedb, err := a.replayState(block.Header())
	if err != nil {
		return nil, err
	}
	tracer := tracing.NewStructTracer(cfg)
	processor := NewStateProcessor(a.rules, a.translator, a.engine, a.chain, a.disableEIP3607)
	if _, err := processor.Replay(ctx, block, statedb, index, tracer.Hooks()); err != nil {
		return nil, err
	}
	log.Debug("Traced transaction", "tx", hash, "block", block.NumberU64(), "index", index)
	return tracer.Result()
}

// replayState opens the state header was built on.
func (a *Adapter) replayState(header *types.Header) (*state.StateDB, error) {
	if a.chain != nil && header.Number.Sign() > 0 {
		if parent := a.chain.GetHeader(header.ParentHash, header.Number.Uint64()-1); parent != nil {
			return a.backend.ScratchAt(parent.Root)
		}
	}
	return a.backend.Scratch()
}
