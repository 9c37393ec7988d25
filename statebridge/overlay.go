package statebridge

import (
	"sync"
	"time"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
)

// codeCacheSize is the number of contract codes kept by hash.
const codeCacheSize = 4096

// Overlay never writes to its snapshot. Every change lands in a pending
// change set; reads consult the change set first and fall back to the
// snapshot. Producing a root materialises snapshot plus change set into a
// fresh StateDB, commits it and rebases the snapshot on the result.
type Overlay struct {
	db   state.Database
	base common.Hash
	snap *state.StateDB // frozen view of base

	// pending records the final account info and dirty slots written since
	// base.
	pending *vm.ChangeSet

	// view caches snap+pending with hashed storage roots. Any write
	// invalidates it.
	view *state.StateDB

	// codes caches contract code by code hash.
	codes *lru.Cache
	roots *rootRegistry

	mu sync.Mutex
}

// NewOverlay opens an overlay backend at root.
func NewOverlay(db state.Database, root common.Hash) (*Overlay, error) {
	snap, err := open(db, root)
	if err != nil {
		return nil, err
	}
	codes, err := lru.New(codeCacheSize)
	if err != nil {
		return nil, err
	}
	o := &Overlay{
		db:      db,
		base:    root,
		snap:    snap,
		pending: vm.NewChangeSet(),
		codes:   codes,
		roots:   newRootRegistry(),
	}
	o.roots.register(root)
	return o, nil
}

func (o *Overlay) Kind() Kind { return KindOverlay }

// materialise returns a fresh StateDB holding snap with pending applied.
func (o *Overlay) materialise() *state.StateDB {
	work := o.snap.Copy()
	o.pending.ApplyTo(work)
	return work
}

func (o *Overlay) materialised() *state.StateDB {
	if o.view == nil {
		o.view = o.materialise()
		o.view.IntermediateRoot(true)
	}
	return o.view
}

// entry returns the pending record for addr, seeding it from the snapshot
// on first write. Writing to a deleted account recreates it empty.
func (o *Overlay) entry(addr common.Address) *vm.AccountChange {
	o.view = nil
	if c, ok := o.pending.Get(addr); ok {
		if c.Deleted {
			c = vm.NewAccountChange()
			c.Wiped = true
			o.pending.Set(addr, c)
		}
		return c
	}
	c := vm.NewAccountChange()
	if o.snap.Exist(addr) {
		c.Nonce = o.snap.GetNonce(addr)
		c.Balance = new(uint256.Int).Set(o.snap.GetBalance(addr))
		c.CodeHash = o.snap.GetCodeHash(addr)
	}
	o.pending.Set(addr, c)
	return c
}

func (o *Overlay) Account(addr common.Address) (*types.StateAccount, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// If there is a pending override, return it directly.
	if c, ok := o.pending.Get(addr); ok {
		journalHitCounter.Inc(1)
		if c.Deleted || (c.Nonce == 0 && c.Balance.IsZero() && c.CodeHash == types.EmptyCodeHash) {
			return emptyAccount(), nil
		}
		root := storageRoot(o.snap.GetStorageRoot(addr))
		if len(c.Storage) > 0 || c.Wiped {
			root = storageRoot(o.materialised().GetStorageRoot(addr))
		}
		return &types.StateAccount{
			Nonce:    c.Nonce,
			Balance:  new(uint256.Int).Set(c.Balance),
			Root:     root,
			CodeHash: c.CodeHash.Bytes(),
		}, nil
	}
	journalMissCounter.Inc(1)
	if !o.snap.Exist(addr) {
		return emptyAccount(), o.snap.Error()
	}
	return &types.StateAccount{
		Nonce:    o.snap.GetNonce(addr),
		Balance:  new(uint256.Int).Set(o.snap.GetBalance(addr)),
		Root:     storageRoot(o.snap.GetStorageRoot(addr)),
		CodeHash: o.snap.GetCodeHash(addr).Bytes(),
	}, o.snap.Error()
}

func (o *Overlay) Code(addr common.Address) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	hash := o.snap.GetCodeHash(addr)
	if c, ok := o.pending.Get(addr); ok {
		journalHitCounter.Inc(1)
		switch {
		case c.Deleted:
			return nil, nil
		case c.Code != nil:
			return common.CopyBytes(c.Code), nil
		}
		hash = c.CodeHash
	} else {
		journalMissCounter.Inc(1)
	}
	return o.codeByHash(addr, hash), o.snap.Error()
}

// codeByHash resolves code through the cache, loading it from the snapshot
// account on a miss. The returned slice is a copy.
func (o *Overlay) codeByHash(addr common.Address, hash common.Hash) []byte {
	if hash == (common.Hash{}) || hash == types.EmptyCodeHash {
		return nil
	}
	if v, ok := o.codes.Get(hash); ok {
		return common.CopyBytes(v.([]byte))
	}
	code := o.snap.GetCode(addr)
	if len(code) > 0 {
		o.codes.Add(hash, common.CopyBytes(code))
	}
	return common.CopyBytes(code)
}

func (o *Overlay) Storage(addr common.Address, key common.Hash) (common.Hash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Check pending overlay first.
	if c, ok := o.pending.Get(addr); ok {
		if v, ok := c.Storage[key]; ok {
			journalHitCounter.Inc(1)
			return v, nil
		}
		if c.Deleted || c.Wiped {
			journalHitCounter.Inc(1)
			return common.Hash{}, nil
		}
	}
	journalMissCounter.Inc(1)
	return o.snap.GetState(addr, key), o.snap.Error()
}

func (o *Overlay) PutAccount(addr common.Address, acct *types.StateAccount) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.entry(addr)
	c.Nonce = acct.Nonce
	c.Balance = new(uint256.Int).Set(acct.Balance)
	return nil
}

func (o *Overlay) PutCode(addr common.Address, code []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.entry(addr)
	c.Code = common.CopyBytes(code)
	if c.Code == nil {
		c.Code = []byte{}
	}
	c.CodeHash = crypto.Keccak256Hash(code)
	if len(code) > 0 {
		o.codes.Add(c.CodeHash, common.CopyBytes(code))
	}
	return nil
}

func (o *Overlay) PutStorage(addr common.Address, key, value common.Hash) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.entry(addr).Storage[key] = value
	return nil
}

func (o *Overlay) AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.entry(addr)
	c.Balance = new(uint256.Int).Add(c.Balance, amount)
	log.Trace("Credited account", "backend", KindOverlay, "addr", addr, "amount", amount, "reason", reason)
	return nil
}

func (o *Overlay) StateRoot() (common.Hash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending.Len() == 0 {
		return o.base, nil
	}
	start := time.Now()
	root, err := o.materialise().Commit(0, true, false)
	if err != nil {
		return common.Hash{}, err
	}
	if err := o.rebase(root); err != nil {
		return common.Hash{}, err
	}
	o.roots.register(root)
	commitTimer.UpdateSince(start)
	return root, nil
}

// rebase drops the pending change set and reopens the snapshot at root.
func (o *Overlay) rebase(root common.Hash) error {
	snap, err := open(o.db, root)
	if err != nil {
		return err
	}
	o.snap, o.base = snap, root
	o.pending = vm.NewChangeSet()
	o.view = nil
	return nil
}

func (o *Overlay) RevertToRoot(root common.Hash) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.roots.lookup(root); !ok {
		return unknownRoot(root)
	}
	if err := o.rebase(root); err != nil {
		return err
	}
	log.Debug("Reverted state", "backend", KindOverlay, "root", root)
	return nil
}

func (o *Overlay) Anchor(root common.Hash) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.rebase(root); err != nil {
		return err
	}
	o.roots.register(root)
	return nil
}

func (o *Overlay) Scratch() (*state.StateDB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.materialise(), nil
}

func (o *Overlay) ScratchAt(root common.Hash) (*state.StateDB, error) {
	return open(o.db, root)
}

func (o *Overlay) Transact(fn func(*state.StateDB) (*vm.Result, error)) (*vm.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	res, err := fn(o.materialise())
	if err != nil {
		return nil, err
	}
	if res != nil && res.Changes != nil {
		o.pending.Merge(res.Changes)
		for _, addr := range res.Changes.Addresses() {
			if c, _ := res.Changes.Get(addr); len(c.Code) > 0 {
				o.codes.Add(c.CodeHash, common.CopyBytes(c.Code))
			}
		}
		o.view = nil
	}
	return res, nil
}

func (o *Overlay) Prefetch(keys []BatchKey) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prefetch(o.snap, keys)
	for _, k := range keys {
		if _, ok := o.pending.Get(k.Address); !ok {
			o.codeByHash(k.Address, o.snap.GetCodeHash(k.Address))
		}
	}
}

// HasPending reports whether the overlay holds writes not yet fixed by
// StateRoot.
func (o *Overlay) HasPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending.Len() > 0
}
