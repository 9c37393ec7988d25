// Package miner builds blocks on top of a VM adapter: it assembles the next
// header, runs pending transactions through a block session, credits the
// block reward and appends the sealed block to the chain.
package miner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/clydemeng/vmadapter/core"
	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/trie"
)

// Config is the configuration parameters of mining.
type Config struct {
	Coinbase common.Address
	GasLimit uint64 // zero keeps the parent's gas limit
	// Period is the timestamp increment between blocks, in seconds.
	Period uint64
}

// DefaultConfig contains default settings for miner.
var DefaultConfig = Config{Period: 1}

// Worker builds one block at a time.
type Worker struct {
	config  Config
	adapter core.VMAdapter
	chain   *core.MemoryChain

	mu   sync.Mutex
	last *core.Session // session of the most recently mined block
}

func NewWorker(config Config, adapter core.VMAdapter, chain *core.MemoryChain) *Worker {
	return &Worker{config: config, adapter: adapter, chain: chain}
}

// Mine builds a block on the current head holding those of txs the chain
// rules accept, in order. Rejected transactions are skipped.
func (w *Worker) Mine(ctx context.Context, txs []*types.Transaction) (*types.Block, *core.SealedBlock, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	parent := w.chain.CurrentHeader()
	header := w.prepareHeader(parent)

	session, err := w.adapter.StartBlock()
	if err != nil {
		return nil, nil, err
	}
	if err := w.adapter.BindBlock(session, header); err != nil {
		w.discard(session)
		return nil, nil, err
	}
	included := make([]*types.Transaction, 0, len(txs))
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			w.discard(session)
			return nil, nil, err
		}
		_, err := w.adapter.RunTxInBlock(ctx, session, tx, header)
		switch {
		case err == nil:
			included = append(included, tx)
		case errors.Is(err, core.ErrEngineFault):
			// The session is gone already.
			return nil, nil, err
		default:
			log.Warn("Skipping transaction", "number", header.Number, "hash", tx.Hash(), "err", err)
		}
	}
	fork := w.adapter.SelectHardfork(header.Number.Uint64())
	if reward := hardfork.BlockReward(fork); !reward.IsZero() {
		rewards := []core.Reward{{Address: header.Coinbase, Amount: reward}}
		if err := w.adapter.AddBlockRewards(session, rewards); err != nil {
			w.discard(session)
			return nil, nil, err
		}
	}
	sealed, err := w.adapter.SealBlock(session)
	if err != nil {
		w.discard(session)
		return nil, nil, err
	}
	header.Root = sealed.Root
	header.GasUsed = sealed.GasUsed
	header.Bloom = sealed.Bloom

	body := &types.Body{Transactions: included}
	if hardfork.Gte(fork, hardfork.Shanghai) {
		body.Withdrawals = make([]*types.Withdrawal, 0)
	}
	block := types.NewBlock(header, body, sealed.Receipts, trie.NewStackTrie(nil))
	w.chain.Append(block.Header())
	w.last = session

	log.Info("Successfully sealed new block", "number", block.Number(), "hash", block.Hash(), "txs", len(included), "gasUsed", block.GasUsed(), "hardfork", fork)
	return block, sealed, nil
}

// Undo reverts the most recently mined block, provided the state was not
// changed since.
func (w *Worker) Undo() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.last == nil {
		return fmt.Errorf("%w: nothing mined", core.ErrNoOpenBlock)
	}
	if err := w.adapter.RevertBlock(w.last); err != nil {
		return err
	}
	w.last = nil
	w.chain.Rewind()
	return nil
}

func (w *Worker) discard(s *core.Session) {
	if err := w.adapter.RevertBlock(s); err != nil {
		log.Error("Failed to discard block", "session", s.ID(), "err", err)
	}
}

// prepareHeader assembles the header of the block following parent.
func (w *Worker) prepareHeader(parent *types.Header) *types.Header {
	number := new(big.Int).Add(parent.Number, common.Big1)
	gasLimit := w.config.GasLimit
	if gasLimit == 0 {
		gasLimit = parent.GasLimit
	}
	header := &types.Header{
		ParentHash: parent.Hash(),
		UncleHash:  types.EmptyUncleHash,
		Coinbase:   w.config.Coinbase,
		Number:     number,
		GasLimit:   gasLimit,
		Time:       parent.Time + w.config.Period,
		Difficulty: new(big.Int),
	}
	fork := w.adapter.SelectHardfork(number.Uint64())
	if hardfork.IsPostMerge(fork) {
		header.MixDigest = crypto.Keccak256Hash(parent.MixDigest[:], number.Bytes())
	} else {
		header.Difficulty.SetUint64(1)
	}
	if hardfork.IsEIP1559(fork) {
		header.BaseFee = eip1559.CalcBaseFee(w.adapter.ChainConfig(), parent)
	}
	return header
}
