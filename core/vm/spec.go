package vm

import (
	"math/big"

	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/ethereum/go-ethereum/params"
)

// HardforkAt maps the fork rules of cfg at (num, ts) to a hardfork name.
// A chain counts as merged when its terminal total difficulty is zero or the
// merge netsplit block has been reached.
func HardforkAt(cfg *params.ChainConfig, num uint64, ts uint64) hardfork.Name {
	bn := new(big.Int).SetUint64(num)
	merged := (cfg.TerminalTotalDifficulty != nil && cfg.TerminalTotalDifficulty.Sign() == 0) ||
		(cfg.MergeNetsplitBlock != nil && cfg.MergeNetsplitBlock.Cmp(bn) <= 0)
	switch {
	case merged && cfg.IsPrague(bn, ts):
		return hardfork.Prague
	case merged && cfg.IsCancun(bn, ts):
		return hardfork.Cancun
	case merged && cfg.IsShanghai(bn, ts):
		return hardfork.Shanghai
	case merged:
		return hardfork.Merge
	case cfg.IsGrayGlacier(bn):
		return hardfork.GrayGlacier
	case cfg.IsArrowGlacier(bn):
		return hardfork.ArrowGlacier
	case cfg.IsLondon(bn):
		return hardfork.London
	case cfg.IsBerlin(bn):
		return hardfork.Berlin
	case cfg.IsMuirGlacier(bn):
		return hardfork.MuirGlacier
	case cfg.IsIstanbul(bn):
		return hardfork.Istanbul
	case cfg.IsPetersburg(bn):
		return hardfork.Petersburg
	case cfg.IsConstantinople(bn):
		return hardfork.Constantinople
	case cfg.IsByzantium(bn):
		return hardfork.Byzantium
	case cfg.IsEIP158(bn):
		return hardfork.SpuriousDragon
	case cfg.IsEIP150(bn):
		return hardfork.TangerineWhistle
	case cfg.IsHomestead(bn):
		return hardfork.Homestead
	default:
		return hardfork.Chainstart
	}
}

// SelectorFromChainConfig resolves hardforks from cfg alone. A selector only
// sees block numbers, so timestamp forks are evaluated at time zero: a fork
// scheduled at a later timestamp is never reported. Configs built by
// hardfork.ChainConfig mark timestamp forks at zero and resolve correctly.
func SelectorFromChainConfig(cfg *params.ChainConfig) hardfork.Selector {
	return func(number uint64) hardfork.Name {
		return HardforkAt(cfg, number, 0)
	}
}
