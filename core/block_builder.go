package core

import (
	"fmt"
	"time"

	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// StartBlock opens a block session on the current state.
func (a *Adapter) StartBlock() (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return nil, fmt.Errorf("%w: session %d is open", ErrAlreadyBuilding, a.session.id)
	}
	root, err := a.backend.StateRoot()
	if err != nil {
		return nil, err
	}
	a.nextID++
	s := &Session{
		id:        a.nextID,
		owner:     a,
		state:     stateBuilding,
		startRoot: root,
		prevHead:  a.head,
	}
	a.session = s
	openSessionGauge.Update(1)
	log.Debug("Started block", "session", s.id, "root", root)
	return s, nil
}

// checkSession verifies that s is the open session of a.
func (a *Adapter) checkSession(s *Session) error {
	if s == nil || s.owner != a {
		return fmt.Errorf("%w: session belongs to another adapter", ErrSessionMismatch)
	}
	if s != a.session || s.state != stateBuilding {
		return fmt.Errorf("%w: session %d is %s", ErrNoOpenBlock, s.id, s.state)
	}
	return nil
}

// AddBlockRewards credits rewards in list order. It closes the session to
// further transactions.
func (a *Adapter) AddBlockRewards(s *Session, rewards []Reward) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkSession(s); err != nil {
		return err
	}
	for _, r := range rewards {
		if r.Amount == nil || r.Amount.IsZero() {
			continue
		}
		if err := a.backend.AddBalance(r.Address, r.Amount, tracing.BalanceChangeReward); err != nil {
			return err
		}
		s.rewards = append(s.rewards, Reward{Address: r.Address, Amount: r.Amount.Clone()})
		a.writes++
		log.Debug("Credited block reward", "session", s.id, "addr", r.Address, "amount", r.Amount)
	}
	s.rewarded = true
	return nil
}

// SealBlock fixes the state root of the session and closes it.
func (a *Adapter) SealBlock(s *Session) (*SealedBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkSession(s); err != nil {
		return nil, err
	}
	start := time.Now()
	root, err := a.backend.StateRoot()
	if err != nil {
		return nil, err
	}
	block := &SealedBlock{
		ParentRoot: s.startRoot,
		Root:       root,
		GasUsed:    s.gasUsed,
		Receipts:   s.receipts,
		Results:    s.results,
		Bloom:      types.MergeBloom(s.receipts),
		Rewards:    s.rewards,
	}
	block.Number = s.prevHead + 1
	if s.env != nil {
		block.Number = s.env.Number
	}
	a.head = block.Number
	s.state, s.sealed = stateSealed, block
	a.session, a.lastSealed, a.sealWrites = nil, s, a.writes

	openSessionGauge.Update(0)
	sealTimer.UpdateSince(start)
	sealedBlockCounter.Inc(1)
	log.Info("Sealed block", "session", s.id, "number", block.Number, "txs", len(block.Receipts), "gasUsed", block.GasUsed, "root", root, "elapsed", time.Since(start))
	return block, nil
}

// RevertBlock discards every write made since the session was started. It
// accepts the open session, or the session sealed last as long as the state
// was not touched since.
func (a *Adapter) RevertBlock(s *Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s == nil || s.owner != a {
		return fmt.Errorf("%w: session belongs to another adapter", ErrSessionMismatch)
	}
	switch {
	case s == a.session && s.state == stateBuilding:
	case s == a.lastSealed && s.state == stateSealed:
		if a.session != nil {
			return fmt.Errorf("%w: session %d is open", ErrAlreadyBuilding, a.session.id)
		}
		if a.writes != a.sealWrites {
			return fmt.Errorf("%w: state changed after session %d was sealed", ErrNoOpenBlock, s.id)
		}
	default:
		return fmt.Errorf("%w: session %d is %s", ErrNoOpenBlock, s.id, s.state)
	}
	if err := a.backend.RevertToRoot(s.startRoot); err != nil {
		return err
	}
	wasSealed := s.state == stateSealed
	a.head = s.prevHead
	s.state = stateReverted
	a.session, a.lastSealed = nil, nil
	a.writes++

	openSessionGauge.Update(0)
	revertedBlockCounter.Inc(1)
	log.Info("Reverted block", "session", s.id, "sealed", wasSealed, "root", s.startRoot)
	return nil
}

// abort closes s after an engine fault and rolls the state back to where
// the session started.
func (a *Adapter) abort(s *Session, cause error) {
	if err := a.backend.RevertToRoot(s.startRoot); err != nil {
		log.Error("Failed to roll back aborted block", "session", s.id, "root", s.startRoot, "err", err)
	}
	s.state = stateAborted
	a.session = nil
	a.head = s.prevHead
	a.writes++

	openSessionGauge.Update(0)
	abortedBlockCounter.Inc(1)
	log.Error("Aborted block on engine fault", "session", s.id, "err", cause)
}

// blockGasLimit returns the gas available to the block described by header.
func (a *Adapter) blockGasLimit(header *types.Header) uint64 {
	if a.disableBlockGasLimit || header.GasLimit == 0 {
		return maxBlockGas
	}
	return header.GasLimit
}
