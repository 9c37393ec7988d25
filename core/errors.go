package core

import (
	"errors"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/statebridge"
)

var (
	// ErrNoOpenBlock is returned when a block call names a session that is
	// not open: never started here, already sealed, reverted or aborted.
	ErrNoOpenBlock = errors.New("no open block")

	// ErrAlreadyBuilding is returned when a block is started, or the state
	// context is changed, while another block is being built.
	ErrAlreadyBuilding = errors.New("block already being built")

	// ErrSessionMismatch is returned for a session owned by another adapter
	// or a header that does not match the session's block.
	ErrSessionMismatch = errors.New("block session mismatch")

	// ErrRewardsApplied is returned when a transaction is run after the
	// block rewards were credited.
	ErrRewardsApplied = errors.New("block rewards already applied")

	// ErrTransactionNotFound is returned when a traced transaction is not
	// part of the given block.
	ErrTransactionNotFound = errors.New("transaction not found in block")
)

// Errors raised by collaborators, re-exported so callers need a single
// import.
var (
	ErrUnknownRoot        = statebridge.ErrUnknownRoot
	ErrTranslation        = vm.ErrTranslation
	ErrEngineFault        = vm.ErrEngineFault
	ErrInvalidTransaction = vm.ErrInvalidTransaction
	ErrAborted            = vm.ErrAborted
)
