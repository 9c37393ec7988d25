package vm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
)

// ErrTranslation is returned when a header lacks a field the active hardfork
// requires.
var ErrTranslation = errors.New("block environment translation failed")

// BlockEnv is the engine-facing description of the block a transaction runs
// in. It is immutable once built by a Translator.
type BlockEnv struct {
	Number     uint64
	ParentHash common.Hash
	Coinbase   common.Address
	Timestamp  uint64
	GasLimit   uint64
	BaseFee    *big.Int // nil before London

	// Difficulty holds the literal difficulty before the merge and the mix
	// value afterwards.
	Difficulty *big.Int
	PostMerge  bool
	Hardfork   hardfork.Name
}

// Random returns the mix value for post-merge blocks and nil otherwise.
func (e *BlockEnv) Random() *common.Hash {
	if !e.PostMerge {
		return nil
	}
	h := common.BigToHash(e.Difficulty)
	return &h
}

// Equal reports whether both environments describe the same block.
func (e *BlockEnv) Equal(o *BlockEnv) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Number == o.Number &&
		e.ParentHash == o.ParentHash &&
		e.Coinbase == o.Coinbase &&
		e.Timestamp == o.Timestamp &&
		e.GasLimit == o.GasLimit &&
		e.PostMerge == o.PostMerge &&
		e.Hardfork == o.Hardfork &&
		bigEqual(e.BaseFee, o.BaseFee) &&
		bigEqual(e.Difficulty, o.Difficulty)
}

// BlockContext converts the environment into go-ethereum's block context.
// A nil getHash resolves every ancestor to the zero hash.
func (e *BlockEnv) BlockContext(getHash gethvm.GetHashFunc) gethvm.BlockContext {
	if getHash == nil {
		getHash = func(uint64) common.Hash { return common.Hash{} }
	}
	ctx := gethvm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     getHash,
		Coinbase:    e.Coinbase,
		GasLimit:    e.GasLimit,
		BlockNumber: new(big.Int).SetUint64(e.Number),
		Time:        e.Timestamp,
		Difficulty:  new(big.Int),
		Random:      e.Random(),
	}
	if !e.PostMerge {
		ctx.Difficulty.Set(e.Difficulty)
	}
	if e.BaseFee != nil {
		ctx.BaseFee = new(big.Int).Set(e.BaseFee)
	}
	if hardfork.Gte(e.Hardfork, hardfork.Cancun) {
		ctx.BlobBaseFee = big.NewInt(params.BlobTxMinBlobGasprice)
	}
	return ctx
}

// Translator turns headers into block environments using an injected
// hardfork selector.
type Translator struct {
	selectHardfork hardfork.Selector
}

func NewTranslator(sel hardfork.Selector) *Translator {
	return &Translator{selectHardfork: sel}
}

// Translate builds the environment for header. With forceBaseFeeZero the base
// fee of a London-or-later block is replaced by zero, which call simulation
// and gas estimation rely on.
func (t *Translator) Translate(header *types.Header, forceBaseFeeZero bool) (*BlockEnv, error) {
	if header == nil || header.Number == nil {
		return nil, fmt.Errorf("%w: missing block number", ErrTranslation)
	}
	if !header.Number.IsUint64() {
		return nil, fmt.Errorf("%w: block number %v out of range", ErrTranslation, header.Number)
	}
	number := header.Number.Uint64()
	fork := t.selectHardfork(number)
	if !fork.Valid() {
		return nil, fmt.Errorf("%w: unknown hardfork %q for block %d", ErrTranslation, fork, number)
	}
	env := &BlockEnv{
		Number:     number,
		ParentHash: header.ParentHash,
		Coinbase:   header.Coinbase,
		Timestamp:  header.Time,
		GasLimit:   header.GasLimit,
		Hardfork:   fork,
	}
	if hardfork.IsPostMerge(fork) {
		env.PostMerge = true
		env.Difficulty = new(big.Int).SetBytes(header.MixDigest[:])
	} else {
		if header.Difficulty == nil {
			return nil, fmt.Errorf("%w: block %d (%s) has no difficulty", ErrTranslation, number, fork)
		}
		env.Difficulty = new(big.Int).Set(header.Difficulty)
	}
	if hardfork.IsEIP1559(fork) {
		switch {
		case forceBaseFeeZero:
			env.BaseFee = new(big.Int)
		case header.BaseFee == nil:
			return nil, fmt.Errorf("%w: block %d (%s) has no base fee", ErrTranslation, number, fork)
		default:
			env.BaseFee = new(big.Int).Set(header.BaseFee)
		}
	}
	return env, nil
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}
