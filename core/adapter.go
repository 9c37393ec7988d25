// Package core implements the adapter contract a development node uses to
// read and write state, simulate and trace transactions and build blocks,
// independent of the state backend and execution engine underneath.
package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/clydemeng/vmadapter/statebridge"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
)

// VMAdapter is the contract the rest of the node programs against.
type VMAdapter interface {
	// ChainConfig returns the chain parameters the adapter executes with.
	ChainConfig() *params.ChainConfig
	// SelectHardfork returns the hardfork active at number.
	SelectHardfork(number uint64) hardfork.Name

	Account(addr common.Address) (*types.StateAccount, error)
	Code(addr common.Address) ([]byte, error)
	Storage(addr common.Address, key common.Hash) (common.Hash, error)
	PutAccount(addr common.Address, acct *types.StateAccount) error
	PutCode(addr common.Address, code []byte) error
	PutStorage(addr common.Address, key, value common.Hash) error

	StateRoot() (common.Hash, error)
	RevertToStateRoot(root common.Hash) error
	RestoreBlockContext(root common.Hash) error
	SetBlockContext(header *types.Header, irregularRoot *common.Hash) error

	DryRun(ctx context.Context, tx *types.Transaction, header *types.Header, forceBaseFeeZero bool) (*ExecutionResult, error)

	StartBlock() (*Session, error)
	BindBlock(s *Session, header *types.Header) error
	RunTxInBlock(ctx context.Context, s *Session, tx *types.Transaction, header *types.Header) (*ExecutionResult, error)
	AddBlockRewards(s *Session, rewards []Reward) error
	SealBlock(s *Session) (*SealedBlock, error)
	RevertBlock(s *Session) error

	EnableTracing(cb tracing.Callbacks)
	DisableTracing()
	TraceTransaction(ctx context.Context, hash common.Hash, block *types.Block, cfg *tracing.TraceConfig) (*tracing.TraceResult, error)

	IsEIP1559Active(number rpc.BlockNumber) bool
}

// Options configures an Adapter.
type Options struct {
	ChainConfig *params.ChainConfig
	// SelectHardfork resolves the hardfork of a block number and decides the
	// rules every block executes under. When nil it is derived from
	// ChainConfig with vm.SelectorFromChainConfig, which reads timestamp
	// forks at time zero: a config scheduling Shanghai or later by a real
	// timestamp is then reported as merge. Inject a selector for such chains.
	SelectHardfork hardfork.Selector
	// Chain resolves ancestor headers. Optional.
	Chain ChainReader
	// DisableBlockGasLimit lets a block consume unlimited gas.
	DisableBlockGasLimit bool
	// DisableEIP3607 accepts transactions from senders that have code, as
	// impersonated accounts of a forked chain need.
	DisableEIP3607 bool
}

// Adapter implements VMAdapter on top of a state backend and an execution
// engine. State mutations are serialised; reads run concurrently with each
// other.
type Adapter struct {
	config         *params.ChainConfig
	rules          *hardfork.Rules
	selectHardfork hardfork.Selector
	translator     *vm.Translator
	backend        statebridge.Backend
	engine         vm.Engine
	chain          ChainReader
	tracer         tracing.Registry

	disableBlockGasLimit bool
	disableEIP3607       bool

	mu         sync.RWMutex
	session    *Session // open block, nil when idle
	lastSealed *Session
	nextID     uint64
	head       uint64 // number of the latest block the state belongs to

	// writes counts durable state changes. sealWrites is its value when
	// lastSealed was sealed.
	writes     uint64
	sealWrites uint64
}

var _ VMAdapter = (*Adapter)(nil)

// NewAdapter wires backend and engine into an adapter.
func NewAdapter(backend statebridge.Backend, engine vm.Engine, opts Options) *Adapter {
	sel := opts.SelectHardfork
	if sel == nil {
		sel = vm.SelectorFromChainConfig(opts.ChainConfig)
	}
	a := &Adapter{
		config:               opts.ChainConfig,
		rules:                hardfork.NewRules(opts.ChainConfig.ChainID.Uint64()),
		selectHardfork:       sel,
		translator:           vm.NewTranslator(sel),
		backend:              backend,
		engine:               engine,
		chain:                opts.Chain,
		disableBlockGasLimit: opts.DisableBlockGasLimit,
		disableEIP3607:       opts.DisableEIP3607,
	}
	log.Info("Created VM adapter", "backend", backend.Kind(), "engine", engine.Name(), "chainID", opts.ChainConfig.ChainID)
	return a
}

func (a *Adapter) ChainConfig() *params.ChainConfig { return a.config }

func (a *Adapter) SelectHardfork(number uint64) hardfork.Name { return a.selectHardfork(number) }

// Backend returns the state backend the adapter runs on.
func (a *Adapter) Backend() statebridge.Backend { return a.backend }

func (a *Adapter) Account(addr common.Address) (*types.StateAccount, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend.Account(addr)
}

func (a *Adapter) Code(addr common.Address) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend.Code(addr)
}

func (a *Adapter) Storage(addr common.Address, key common.Hash) (common.Hash, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend.Storage(addr, key)
}

func (a *Adapter) PutAccount(addr common.Address, acct *types.StateAccount) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.writes++
	return a.backend.PutAccount(addr, acct)
}

func (a *Adapter) PutCode(addr common.Address, code []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.writes++
	return a.backend.PutCode(addr, code)
}

func (a *Adapter) PutStorage(addr common.Address, key, value common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.writes++
	return a.backend.PutStorage(addr, key, value)
}

// StateRoot fixes the writes made so far and returns the root identifying
// them. The root can later be passed to RevertToStateRoot.
func (a *Adapter) StateRoot() (common.Hash, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.StateRoot()
}

// RevertToStateRoot discards every write made after root was produced.
func (a *Adapter) RevertToStateRoot(root common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return fmt.Errorf("%w: cannot revert state during block session %d", ErrAlreadyBuilding, a.session.id)
	}
	if err := a.backend.RevertToRoot(root); err != nil {
		return err
	}
	a.writes++
	return nil
}

// RestoreBlockContext re-anchors the adapter on the state identified by
// root, which may belong to any block known to the state database.
func (a *Adapter) RestoreBlockContext(root common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return fmt.Errorf("%w: cannot restore state during block session %d", ErrAlreadyBuilding, a.session.id)
	}
	if err := a.backend.Anchor(root); err != nil {
		return err
	}
	a.writes++
	log.Debug("Restored block context", "root", root)
	return nil
}

// SetBlockContext binds the adapter to the state of header. A non-nil
// irregularRoot replaces the root the header declares.
func (a *Adapter) SetBlockContext(header *types.Header, irregularRoot *common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return fmt.Errorf("%w: cannot set block context during block session %d", ErrAlreadyBuilding, a.session.id)
	}
	if header == nil || header.Number == nil {
		return fmt.Errorf("%w: missing block number", ErrTranslation)
	}
	root := header.Root
	if irregularRoot != nil {
		root = *irregularRoot
	}
	if err := a.backend.Anchor(root); err != nil {
		return err
	}
	a.head = header.Number.Uint64()
	a.writes++
	log.Debug("Set block context", "number", a.head, "root", root, "irregular", irregularRoot != nil)
	return nil
}

// EnableTracing installs cb for every following execution.
func (a *Adapter) EnableTracing(cb tracing.Callbacks) { a.tracer.Enable(cb) }

// DisableTracing removes the installed callbacks.
func (a *Adapter) DisableTracing() { a.tracer.Disable() }

// IsEIP1559Active reports whether the fee market is active at number.
// "pending" resolves to the block being built, or the one after the head.
func (a *Adapter) IsEIP1559Active(number rpc.BlockNumber) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return hardfork.IsEIP1559(a.selectHardfork(a.resolveNumber(number)))
}

func (a *Adapter) resolveNumber(number rpc.BlockNumber) uint64 {
	switch number {
	case rpc.PendingBlockNumber:
		if a.session != nil && a.session.env != nil {
			return a.session.env.Number
		}
		return a.head + 1
	case rpc.EarliestBlockNumber:
		return 0
	}
	if number < 0 {
		// latest, safe and finalized all resolve to the head
		return a.head
	}
	return uint64(number)
}
