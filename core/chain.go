package core

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
)

// ChainReader resolves headers of already built blocks. It is used for the
// BLOCKHASH opcode and to find the state a historical block ran on.
type ChainReader interface {
	// GetHeader retrieves a block header by hash and number, nil if unknown.
	GetHeader(hash common.Hash, number uint64) *types.Header
}

// GetHashFn resolves ancestor hashes of ref for BLOCKHASH by walking parent
// links through chain. Hashes found on the way are remembered, so one
// execution walks each ancestor once. ref itself and later blocks resolve
// to the zero hash, as do ancestors the chain does not know.
func GetHashFn(ref *types.Header, chain ChainReader) gethvm.GetHashFunc {
	if chain == nil {
		return nil
	}
	// known[i] is the hash of block ref.Number-1-i.
	known := []common.Hash{ref.ParentHash}

	return func(n uint64) common.Hash {
		number := ref.Number.Uint64()
		if n >= number {
			return common.Hash{}
		}
		depth := number - n - 1
		for uint64(len(known)) <= depth {
			last := uint64(len(known))
			header := chain.GetHeader(known[last-1], number-last)
			if header == nil {
				return common.Hash{}
			}
			known = append(known, header.ParentHash)
		}
		return known[depth]
	}
}

// MemoryChain is an in-memory ChainReader holding the headers of the blocks
// built so far.
type MemoryChain struct {
	mu       sync.RWMutex
	byHash   map[common.Hash]*types.Header
	byNumber map[uint64]common.Hash
	head     *types.Header
}

func NewMemoryChain(genesis *types.Header) *MemoryChain {
	c := &MemoryChain{
		byHash:   make(map[common.Hash]*types.Header),
		byNumber: make(map[uint64]common.Hash),
	}
	c.Append(genesis)
	return c
}

// Append makes header the new head. A header at an existing height replaces
// the previous one and every header above it.
func (c *MemoryChain) Append(header *types.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	number := header.Number.Uint64()
	for n, hash := range c.byNumber {
		if n >= number {
			delete(c.byHash, hash)
			delete(c.byNumber, n)
		}
	}
	hash := header.Hash()
	c.byHash[hash] = types.CopyHeader(header)
	c.byNumber[number] = hash
	c.head = c.byHash[hash]
}

// Rewind drops the head header, restoring its parent.
func (c *MemoryChain) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.head == nil || c.head.Number.Sign() == 0 {
		return
	}
	number := c.head.Number.Uint64()
	delete(c.byHash, c.head.Hash())
	delete(c.byNumber, number)
	c.head = c.byHash[c.byNumber[number-1]]
}

func (c *MemoryChain) GetHeader(hash common.Hash, number uint64) *types.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.byHash[hash]
	if !ok || h.Number.Uint64() != number {
		return nil
	}
	return types.CopyHeader(h)
}

// CurrentHeader returns the head header.
func (c *MemoryChain) CurrentHeader() *types.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.CopyHeader(c.head)
}
