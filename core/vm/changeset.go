package vm

import (
	"bytes"
	"math/big"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// AccountChange is the final state of one account after a change. Unless
// Deleted, Nonce, Balance and CodeHash are always populated. Code is set only
// when it changed, Storage holds only dirty slots.
type AccountChange struct {
	Deleted bool // account does not exist afterwards
	Wiped   bool // storage was cleared before Storage was applied

	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
	Code     []byte
	Storage  map[common.Hash]common.Hash
}

// NewAccountChange returns the change describing an empty, freshly created
// account.
func NewAccountChange() *AccountChange {
	return &AccountChange{
		Balance:  new(uint256.Int),
		CodeHash: types.EmptyCodeHash,
		Storage:  make(map[common.Hash]common.Hash),
	}
}

func (c *AccountChange) copy() *AccountChange {
	cpy := &AccountChange{
		Deleted:  c.Deleted,
		Wiped:    c.Wiped,
		Nonce:    c.Nonce,
		CodeHash: c.CodeHash,
		Code:     common.CopyBytes(c.Code),
		Storage:  make(map[common.Hash]common.Hash, len(c.Storage)),
	}
	if c.Balance != nil {
		cpy.Balance = new(uint256.Int).Set(c.Balance)
	}
	for k, v := range c.Storage {
		cpy.Storage[k] = v
	}
	return cpy
}

// ChangeSet maps accounts to their final state after one or more
// transactions.
type ChangeSet struct {
	accounts map[common.Address]*AccountChange
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{accounts: make(map[common.Address]*AccountChange)}
}

// Len returns the number of accounts in the set.
func (cs *ChangeSet) Len() int { return len(cs.accounts) }

// Get returns the live entry for addr. Callers owning the set may modify it.
func (cs *ChangeSet) Get(addr common.Address) (*AccountChange, bool) {
	c, ok := cs.accounts[addr]
	return c, ok
}

// Set replaces the entry for addr.
func (cs *ChangeSet) Set(addr common.Address, c *AccountChange) {
	cs.accounts[addr] = c
}

// Addresses returns the accounts of the set in ascending byte order.
func (cs *ChangeSet) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(cs.accounts))
	for addr := range cs.accounts {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	return addrs
}

// Copy returns a deep copy of the set.
func (cs *ChangeSet) Copy() *ChangeSet {
	cpy := NewChangeSet()
	for addr, c := range cs.accounts {
		cpy.accounts[addr] = c.copy()
	}
	return cpy
}

// Merge layers next on top of cs, as if next's changes happened after the
// ones already recorded.
func (cs *ChangeSet) Merge(next *ChangeSet) {
	for addr, n := range next.accounts {
		prev, ok := cs.accounts[addr]
		switch {
		case !ok || n.Deleted:
			cs.accounts[addr] = n.copy()
		case prev.Deleted:
			merged := n.copy()
			merged.Wiped = true
			cs.accounts[addr] = merged
		default:
			prev.Nonce = n.Nonce
			prev.Balance = new(uint256.Int).Set(n.Balance)
			prev.CodeHash = n.CodeHash
			if n.Code != nil {
				prev.Code = common.CopyBytes(n.Code)
			}
			if n.Wiped {
				prev.Wiped = true
				prev.Storage = make(map[common.Hash]common.Hash, len(n.Storage))
			}
			if prev.Storage == nil {
				prev.Storage = make(map[common.Hash]common.Hash, len(n.Storage))
			}
			for k, v := range n.Storage {
				prev.Storage[k] = v
			}
		}
	}
}

// ApplyTo writes the set into db in address order. Deletions and storage
// wipes are finalised before any field is written so that recreated accounts
// start from empty storage.
func (cs *ChangeSet) ApplyTo(db *state.StateDB) {
	addrs := cs.Addresses()

	destructed := false
	for _, addr := range addrs {
		c := cs.accounts[addr]
		if (c.Deleted || c.Wiped) && db.Exist(addr) {
			db.SelfDestruct(addr)
			destructed = true
		}
	}
	if destructed {
		db.Finalise(true)
	}
	for _, addr := range addrs {
		c := cs.accounts[addr]
		if c.Deleted {
			continue
		}
		db.SetNonce(addr, c.Nonce, tracing.NonceChangeUnspecified)
		db.SetBalance(addr, c.Balance, tracing.BalanceChangeUnspecified)
		if c.Code != nil {
			db.SetCode(addr, c.Code)
		}
		for k, v := range c.Storage {
			db.SetState(addr, k, v)
		}
	}
}

// recorder collects the accounts and slots an execution touches through the
// state hooks, so that their final values can be read back afterwards.
type recorder struct {
	accounts mapset.Set[common.Address]
	code     mapset.Set[common.Address]
	slots    map[common.Address]mapset.Set[common.Hash]
}

func newRecorder(addrs ...common.Address) *recorder {
	return &recorder{
		accounts: mapset.NewThreadUnsafeSet(addrs...),
		code:     mapset.NewThreadUnsafeSet[common.Address](),
		slots:    make(map[common.Address]mapset.Set[common.Hash]),
	}
}

func (r *recorder) touch(addr common.Address) { r.accounts.Add(addr) }

func (r *recorder) touchSlot(addr common.Address, slot common.Hash) {
	r.accounts.Add(addr)
	set, ok := r.slots[addr]
	if !ok {
		set = mapset.NewThreadUnsafeSet[common.Hash]()
		r.slots[addr] = set
	}
	set.Add(slot)
}

// hooks returns a copy of tracer with the recording hooks chained in front
// of the state-change callbacks.
func (r *recorder) hooks(tracer *tracing.Hooks) *tracing.Hooks {
	h := new(tracing.Hooks)
	if tracer != nil {
		*h = *tracer
	}
	onBalance := h.OnBalanceChange
	h.OnBalanceChange = func(addr common.Address, prev, next *big.Int, reason tracing.BalanceChangeReason) {
		r.touch(addr)
		if onBalance != nil {
			onBalance(addr, prev, next, reason)
		}
	}
	onNonce := h.OnNonceChange
	h.OnNonceChange = func(addr common.Address, prev, next uint64) {
		r.touch(addr)
		if onNonce != nil {
			onNonce(addr, prev, next)
		}
	}
	onCode := h.OnCodeChange
	h.OnCodeChange = func(addr common.Address, prevCodeHash common.Hash, prevCode []byte, codeHash common.Hash, code []byte) {
		r.touch(addr)
		r.code.Add(addr)
		if onCode != nil {
			onCode(addr, prevCodeHash, prevCode, codeHash, code)
		}
	}
	onStorage := h.OnStorageChange
	h.OnStorageChange = func(addr common.Address, slot common.Hash, prev, next common.Hash) {
		r.touchSlot(addr, slot)
		if onStorage != nil {
			onStorage(addr, slot, prev, next)
		}
	}
	return h
}

// collect reads the final values of everything touched. It must run after
// the state has been finalised.
func (r *recorder) collect(db *state.StateDB) *ChangeSet {
	cs := NewChangeSet()
	for addr := range r.accounts.Iter() {
		if !db.Exist(addr) {
			cs.accounts[addr] = &AccountChange{Deleted: true}
			continue
		}
		c := &AccountChange{
			Nonce:    db.GetNonce(addr),
			Balance:  new(uint256.Int).Set(db.GetBalance(addr)),
			CodeHash: db.GetCodeHash(addr),
			Storage:  make(map[common.Hash]common.Hash),
		}
		if r.code.Contains(addr) {
			c.Code = common.CopyBytes(db.GetCode(addr))
		}
		if slots, ok := r.slots[addr]; ok {
			for slot := range slots.Iter() {
				c.Storage[slot] = db.GetState(addr, slot)
			}
		}
		cs.accounts[addr] = c
	}
	return cs
}
