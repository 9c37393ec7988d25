// Package tracing lets callers observe execution through three callbacks:
// before a message (call frame) runs, at every interpreter step, and after
// the message finishes. Each callback steers execution with an Action.
package tracing

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// ActionKind says how execution continues after a callback.
type ActionKind uint8

const (
	ActionContinue ActionKind = iota
	ActionSkipSteps
	ActionAbort
)

// Action is returned by every callback.
type Action struct {
	Kind  ActionKind
	Steps uint64 // number of step callbacks to suppress, for ActionSkipSteps
}

// Continue resumes normally.
func Continue() Action { return Action{} }

// SkipSteps suppresses the next n step callbacks. Execution itself is not
// affected.
func SkipSteps(n uint64) Action { return Action{Kind: ActionSkipSteps, Steps: n} }

// Abort cancels the running transaction. No further callbacks fire for it
// and its effects are discarded.
func Abort() Action { return Action{Kind: ActionAbort} }

// Message describes a call frame about to run.
type Message struct {
	Depth    int
	Kind     gethvm.OpCode // CALL, CREATE, DELEGATECALL, ...
	From     common.Address
	To       common.Address
	Input    []byte
	Gas      uint64
	Value    *big.Int
	IsCreate bool
}

// Step describes one interpreter step.
type Step struct {
	Depth   int
	PC      uint64
	Opcode  string
	Op      gethvm.OpCode
	Gas     uint64
	Cost    uint64
	Stack   []uint256.Int // bottom first
	Memory  []byte
	Address common.Address
}

// MessageResult describes a finished call frame.
type MessageResult struct {
	Depth    int
	Output   []byte
	GasUsed  uint64
	Err      error
	Reverted bool
}

// Callbacks bundles the caller-supplied hooks. Nil members are skipped.
type Callbacks struct {
	BeforeMessage func(*Message) Action
	Step          func(*Step) Action
	AfterMessage  func(*MessageResult) Action
}

func (c *Callbacks) empty() bool {
	return c == nil || (c.BeforeMessage == nil && c.Step == nil && c.AfterMessage == nil)
}

// Registry holds the currently enabled callbacks. The zero value is
// disabled and ready to use.
type Registry struct {
	mu sync.RWMutex
	cb *Callbacks
}

// Enable installs cb, replacing any previous callbacks.
func (r *Registry) Enable(cb Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb.empty() {
		r.cb = nil
		return
	}
	r.cb = &cb
	log.Debug("Enabled execution tracing")
}

// Disable removes the callbacks. It is idempotent.
func (r *Registry) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cb != nil {
		log.Debug("Disabled execution tracing")
	}
	r.cb = nil
}

// Enabled reports whether callbacks are installed.
func (r *Registry) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cb != nil
}

// Hooks returns interpreter hooks that drive the installed callbacks for a
// single transaction, or nil when tracing is disabled. abort is invoked
// once when a callback returns Abort.
func (r *Registry) Hooks(abort func()) *gethtracing.Hooks {
	r.mu.RLock()
	cb := r.cb
	r.mu.RUnlock()
	if cb == nil {
		return nil
	}
	return newDriver(cb, abort).hooks()
}

// driver carries per-transaction callback state.
type driver struct {
	cb      *Callbacks
	abort   func()
	skip    uint64
	aborted bool
}

func newDriver(cb *Callbacks, abort func()) *driver {
	return &driver{cb: cb, abort: abort}
}

func (d *driver) apply(a Action) {
	switch a.Kind {
	case ActionSkipSteps:
		d.skip += a.Steps
	case ActionAbort:
		if !d.aborted {
			d.aborted = true
			if d.abort != nil {
				d.abort()
			}
		}
	}
}

func (d *driver) hooks() *gethtracing.Hooks {
	h := new(gethtracing.Hooks)
	if d.cb.BeforeMessage != nil {
		h.OnEnter = d.onEnter
	}
	if d.cb.Step != nil {
		h.OnOpcode = d.onOpcode
	}
	if d.cb.AfterMessage != nil {
		h.OnExit = d.onExit
	}
	return h
}

func (d *driver) onEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	if d.aborted {
		return
	}
	op := gethvm.OpCode(typ)
	msg := &Message{
		Depth:    depth,
		Kind:     op,
		From:     from,
		To:       to,
		Input:    common.CopyBytes(input),
		Gas:      gas,
		IsCreate: op == gethvm.CREATE || op == gethvm.CREATE2,
	}
	if value != nil {
		msg.Value = new(big.Int).Set(value)
	}
	d.apply(d.cb.BeforeMessage(msg))
}

func (d *driver) onOpcode(pc uint64, op byte, gas, cost uint64, scope gethtracing.OpContext, rData []byte, depth int, err error) {
	if d.aborted {
		return
	}
	if d.skip > 0 {
		d.skip--
		return
	}
	stack := scope.StackData()
	step := &Step{
		Depth:   depth,
		PC:      pc,
		Op:      gethvm.OpCode(op),
		Opcode:  gethvm.OpCode(op).String(),
		Gas:     gas,
		Cost:    cost,
		Stack:   make([]uint256.Int, len(stack)),
		Memory:  common.CopyBytes(scope.MemoryData()),
		Address: scope.Address(),
	}
	copy(step.Stack, stack)
	d.apply(d.cb.Step(step))
}

func (d *driver) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if d.aborted {
		return
	}
	d.apply(d.cb.AfterMessage(&MessageResult{
		Depth:    depth,
		Output:   common.CopyBytes(output),
		GasUsed:  gasUsed,
		Err:      err,
		Reverted: reverted,
	}))
}
