// Package statebridge exposes account, code and storage access plus
// root-based snapshot and restore over two interchangeable state backends:
// a managed StateDB mutated in place, and an overlay that layers a pending
// change set on top of a frozen snapshot.
package statebridge

import (
	"errors"
	"fmt"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
)

// ErrUnknownRoot is returned when a revert or restore targets a root that
// this backend never produced or that the trie database does not hold.
var ErrUnknownRoot = errors.New("unknown state root")

// Kind selects a backend implementation.
type Kind string

const (
	KindManaged Kind = "managed"
	KindOverlay Kind = "overlay"
)

// ParseKind validates a backend name from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindManaged, KindOverlay:
		return k, nil
	}
	return "", fmt.Errorf("unknown state backend %q", s)
}

// Backend is the state store as seen by the adapter. Reads of accounts,
// code or slots that were never written return empty defaults. All methods
// are safe for concurrent use.
type Backend interface {
	Kind() Kind

	Account(addr common.Address) (*types.StateAccount, error)
	Code(addr common.Address) ([]byte, error)
	Storage(addr common.Address, key common.Hash) (common.Hash, error)

	// PutAccount writes nonce and balance. Code hash and storage root are
	// derived from PutCode and PutStorage and are ignored here.
	PutAccount(addr common.Address, acct *types.StateAccount) error
	PutCode(addr common.Address, code []byte) error
	PutStorage(addr common.Address, key, value common.Hash) error
	AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) error

	// StateRoot fixes all writes so far and returns their root.
	StateRoot() (common.Hash, error)
	// RevertToRoot drops every write made after root was produced.
	RevertToRoot(root common.Hash) error
	// Anchor re-bases the backend on root, which only has to be present in
	// the trie database.
	Anchor(root common.Hash) error

	// Scratch returns a disposable copy of the current state.
	Scratch() (*state.StateDB, error)
	// ScratchAt returns a disposable state opened at root.
	ScratchAt(root common.Hash) (*state.StateDB, error)
	// Transact runs fn against the current state and keeps its effects only
	// if it returns without error.
	Transact(fn func(*state.StateDB) (*vm.Result, error)) (*vm.Result, error)

	// Prefetch warms caches for keys. It is best-effort.
	Prefetch(keys []BatchKey)
}

// New returns the backend of the given kind opened at root.
func New(kind Kind, db state.Database, root common.Hash) (Backend, error) {
	switch kind {
	case KindManaged:
		return NewManaged(db, root)
	case KindOverlay:
		return NewOverlay(db, root)
	}
	return nil, fmt.Errorf("unknown state backend %q", kind)
}

// NewMemoryDatabase returns a state database backed by an in-memory key
// value store with hash-based trie storage.
func NewMemoryDatabase() state.Database {
	return state.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil)
}

func open(db state.Database, root common.Hash) (*state.StateDB, error) {
	sdb, err := state.New(root, db)
	if err != nil {
		return nil, fmt.Errorf("%w %x: %v", ErrUnknownRoot, root, err)
	}
	return sdb, nil
}

func emptyAccount() *types.StateAccount {
	return types.NewEmptyStateAccount()
}

// storageRoot normalises the root reported for accounts without storage.
func storageRoot(root common.Hash) common.Hash {
	if root == (common.Hash{}) {
		return types.EmptyRootHash
	}
	return root
}
