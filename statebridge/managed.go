package statebridge

import (
	"sync"
	"time"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// Managed keeps one long-lived StateDB and mutates it in place. Roots are
// produced by committing the StateDB and reopening it on the result.
type Managed struct {
	db    state.Database
	live  *state.StateDB
	roots *rootRegistry

	// mu protects live because StateDB is not thread-safe, even for reads.
	mu sync.Mutex
}

// NewManaged opens a managed backend at root.
func NewManaged(db state.Database, root common.Hash) (*Managed, error) {
	live, err := open(db, root)
	if err != nil {
		return nil, err
	}
	m := &Managed{db: db, live: live, roots: newRootRegistry()}
	m.roots.register(root)
	return m, nil
}

func (m *Managed) Kind() Kind { return KindManaged }

func (m *Managed) Account(addr common.Address) (*types.StateAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.live.Exist(addr) {
		return emptyAccount(), m.live.Error()
	}
	// Storage roots are only current after the pending writes are hashed.
	// Hashing finalises the state and drops empty accounts, so it runs on a
	// copy and live keeps every pending write.
	view := m.live.Copy()
	view.IntermediateRoot(true)
	if !view.Exist(addr) {
		return emptyAccount(), view.Error()
	}
	return &types.StateAccount{
		Nonce:    view.GetNonce(addr),
		Balance:  new(uint256.Int).Set(view.GetBalance(addr)),
		Root:     storageRoot(view.GetStorageRoot(addr)),
		CodeHash: view.GetCodeHash(addr).Bytes(),
	}, view.Error()
}

func (m *Managed) Code(addr common.Address) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return common.CopyBytes(m.live.GetCode(addr)), m.live.Error()
}

func (m *Managed) Storage(addr common.Address, key common.Hash) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.live.GetState(addr, key), m.live.Error()
}

func (m *Managed) PutAccount(addr common.Address, acct *types.StateAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live.SetNonce(addr, acct.Nonce, tracing.NonceChangeUnspecified.Geth())
	m.live.SetBalance(addr, new(uint256.Int).Set(acct.Balance), tracing.BalanceChangeUnspecified.Geth())
	return nil
}

func (m *Managed) PutCode(addr common.Address, code []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live.SetCode(addr, common.CopyBytes(code))
	return nil
}

func (m *Managed) PutStorage(addr common.Address, key, value common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live.SetState(addr, key, value)
	return nil
}

func (m *Managed) AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live.AddBalance(addr, amount, reason.Geth())
	log.Trace("Credited account", "backend", KindManaged, "addr", addr, "amount", amount, "reason", reason)
	return nil
}

func (m *Managed) StateRoot() (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	root, err := m.live.Commit(0, true, false)
	if err != nil {
		return common.Hash{}, err
	}
	live, err := open(m.db, root)
	if err != nil {
		return common.Hash{}, err
	}
	m.live = live
	m.roots.register(root)
	commitTimer.UpdateSince(start)
	return root, nil
}

func (m *Managed) RevertToRoot(root common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roots.lookup(root); !ok {
		return unknownRoot(root)
	}
	live, err := open(m.db, root)
	if err != nil {
		return err
	}
	m.live = live
	log.Debug("Reverted state", "backend", KindManaged, "root", root)
	return nil
}

func (m *Managed) Anchor(root common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	live, err := open(m.db, root)
	if err != nil {
		return err
	}
	m.live = live
	m.roots.register(root)
	return nil
}

func (m *Managed) Scratch() (*state.StateDB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.live.Copy(), nil
}

func (m *Managed) ScratchAt(root common.Hash) (*state.StateDB, error) {
	return open(m.db, root)
}

func (m *Managed) Transact(fn func(*state.StateDB) (*vm.Result, error)) (*vm.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.live.Snapshot()
	res, err := fn(m.live)
	if err != nil {
		m.live.RevertToSnapshot(snap)
		return nil, err
	}
	return res, nil
}

func (m *Managed) Prefetch(keys []BatchKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefetch(m.live, keys)
}
