package core

import (
	"slices"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

type sessionState uint8

const (
	stateBuilding sessionState = iota
	stateSealed
	stateReverted
	stateAborted
)

func (s sessionState) String() string {
	switch s {
	case stateBuilding:
		return "building"
	case stateSealed:
		return "sealed"
	case stateReverted:
		return "reverted"
	case stateAborted:
		return "aborted"
	}
	return "unknown"
}

// Reward is a balance credit applied to a block before it is sealed.
type Reward struct {
	Address common.Address
	Amount  *uint256.Int
}

// Session is one block being built. It is created by StartBlock and must be
// handed back to every later block call; it is consumed by SealBlock or
// RevertBlock. A Session is not safe for concurrent use.
type Session struct {
	id        uint64
	owner     *Adapter
	state     sessionState
	startRoot common.Hash
	prevHead  uint64

	env     *vm.BlockEnv // bound by BindBlock or the first transaction
	gasPool *gethcore.GasPool
	pinned  bool // env came from BindBlock and survives a rejected first transaction

	results  []*ExecutionResult
	receipts types.Receipts
	rewards  []Reward
	rewarded bool
	gasUsed  uint64
	logIndex uint

	sealed *SealedBlock
}

// ID returns the session's sequence number within its adapter.
func (s *Session) ID() uint64 { return s.id }

// StartRoot returns the state root the block was started on.
func (s *Session) StartRoot() common.Hash { return s.startRoot }

// Env returns the block environment, nil until the session is bound.
func (s *Session) Env() *vm.BlockEnv { return s.env }

// GasUsed returns the gas consumed by the transactions applied so far.
func (s *Session) GasUsed() uint64 { return s.gasUsed }

// Results returns the results of the applied transactions in order.
func (s *Session) Results() []*ExecutionResult { return slices.Clone(s.results) }

// Open reports whether the session still accepts block calls.
func (s *Session) Open() bool { return s.state == stateBuilding }

// Sealed returns the sealed block, nil unless the session was sealed.
func (s *Session) Sealed() *SealedBlock { return s.sealed }

// SealedBlock is the immutable outcome of a sealed session.
type SealedBlock struct {
	Number     uint64 // the block after the previous head if never bound
	ParentRoot common.Hash
	Root       common.Hash
	GasUsed    uint64
	Bloom      types.Bloom
	Receipts   types.Receipts
	Results    []*ExecutionResult
	Rewards    []Reward
}

// Empty reports whether the block holds no transactions.
func (b *SealedBlock) Empty() bool { return len(b.Receipts) == 0 }
