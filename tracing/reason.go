package tracing

import gethtracing "github.com/ethereum/go-ethereum/core/tracing"

// BalanceChangeReason is a description of the reason why a balance was changed
// outside of transaction execution.
type BalanceChangeReason int

const (
	BalanceChangeUnspecified BalanceChangeReason = iota
	BalanceChangeReward
	BalanceChangeGenesis
	BalanceChangeGuarantee
)

// NonceChangeReason is a description of the reason why a nonce was changed
// outside of transaction execution.
type NonceChangeReason int

const (
	NonceChangeUnspecified NonceChangeReason = iota
	NonceChangeGenesis
)

// String returns a human-readable string for the reason.
func (r BalanceChangeReason) String() string {
	switch r {
	case BalanceChangeUnspecified:
		return "unspecified"
	case BalanceChangeReward:
		return "reward"
	case BalanceChangeGenesis:
		return "genesis"
	case BalanceChangeGuarantee:
		return "guarantee"
	}
	return "unknown"
}

// Geth maps r onto the reason reported to go-ethereum tracers. A guarantee
// top-up has no go-ethereum counterpart and is reported as unspecified.
func (r BalanceChangeReason) Geth() gethtracing.BalanceChangeReason {
	switch r {
	case BalanceChangeReward:
		return gethtracing.BalanceIncreaseRewardMineBlock
	case BalanceChangeGenesis:
		return gethtracing.BalanceIncreaseGenesisBalance
	}
	return gethtracing.BalanceChangeUnspecified
}

// String returns a human-readable string for the reason.
func (r NonceChangeReason) String() string {
	switch r {
	case NonceChangeUnspecified:
		return "unspecified"
	case NonceChangeGenesis:
		return "genesis"
	}
	return "unknown"
}

// Geth maps r onto the reason reported to go-ethereum tracers.
func (r NonceChangeReason) Geth() gethtracing.NonceChangeReason {
	if r == NonceChangeGenesis {
		return gethtracing.NonceChangeGenesis
	}
	return gethtracing.NonceChangeUnspecified
}
