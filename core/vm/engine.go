package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
)

var (
	// ErrInvalidTransaction wraps consensus-level rejections (nonce, funds,
	// intrinsic gas, block gas limit). The transaction did not execute.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrAborted is returned when execution was cancelled through the
	// context or an Interrupt before it completed.
	ErrAborted = errors.New("execution aborted")

	// ErrEngineFault marks an irrecoverable failure inside the engine.
	ErrEngineFault = errors.New("execution engine fault")
)

// FaultError reports an engine fault together with its cause.
type FaultError struct {
	Engine string
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrEngineFault, e.Engine, e.Err)
}

func (e *FaultError) Unwrap() []error { return []error{ErrEngineFault, e.Err} }

// Engine executes translated transactions against a state database. It is
// the only place that knows how a backend runs EVM bytecode.
type Engine interface {
	// Name returns a short identifier ("go-evm", ...).
	Name() string

	// GuaranteeTransaction tops up the sender on statedb so that the call's
	// maximum cost is affordable. Only used on scratch state.
	GuaranteeTransaction(statedb *state.StateDB, call *CallMetadata) error

	// Execute runs call inside env. Reverted executions are results, not
	// errors. Errors wrap ErrInvalidTransaction, ErrAborted, or are a
	// *FaultError.
	Execute(ctx context.Context, statedb *state.StateDB, env *BlockEnv, call *CallMetadata, opts ExecOptions) (*Result, error)
}

// ExecOptions tunes a single Execute call.
type ExecOptions struct {
	Tracer           *tracing.Hooks
	NoBaseFee        bool
	SkipNonceChecks  bool
	SkipFromEOACheck bool // accept senders that have code
	TxIndex          int
	GasPool          *core.GasPool      // nil means unbounded
	GetHash          gethvm.GetHashFunc // nil resolves ancestors to the zero hash
	Interrupt        *Interrupt
}

// Result is the outcome of one executed transaction.
type Result struct {
	UsedGas         uint64
	ReturnData      []byte
	Err             error // EVM-level failure, nil on success
	Logs            []*types.Log
	ContractAddress *common.Address
	PostState       []byte // intermediate root, only before Byzantium
	Changes         *ChangeSet
}

// Failed reports whether the execution ended in an EVM error.
func (r *Result) Failed() bool { return r.Err != nil }

// Reverted reports whether the execution ended with REVERT.
func (r *Result) Reverted() bool { return errors.Is(r.Err, gethvm.ErrExecutionReverted) }

// Interrupt lets a caller stop an execution from another goroutine or from
// inside a tracer hook.
type Interrupt struct {
	mu      sync.Mutex
	evm     *gethvm.EVM
	aborted bool
}

func NewInterrupt() *Interrupt { return new(Interrupt) }

// Abort cancels the bound execution. The interpreter stops at its next jump
// and the execution reports ErrAborted even if it ran to completion. Calling
// it before the execution starts aborts it on start.
func (i *Interrupt) Abort() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.aborted = true
	if i.evm != nil {
		i.evm.Cancel()
	}
}

// Aborted reports whether Abort was called.
func (i *Interrupt) Aborted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.aborted
}

func (i *Interrupt) bind(evm *gethvm.EVM) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.evm = evm
	if i.aborted {
		evm.Cancel()
	}
}
