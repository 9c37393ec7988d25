package hardfork

import (
	"github.com/ethereum/go-ethereum/consensus/ethash"
	"github.com/holiman/uint256"
)

// BlockReward returns the coinbase reward for a block mined under n. Blocks
// after the merge carry no reward.
func BlockReward(n Name) *uint256.Int {
	switch {
	case IsPostMerge(n):
		return new(uint256.Int)
	case Gte(n, Constantinople):
		return new(uint256.Int).Set(ethash.ConstantinopleBlockReward)
	case Gte(n, Byzantium):
		return new(uint256.Int).Set(ethash.ByzantiumBlockReward)
	default:
		return new(uint256.Int).Set(ethash.FrontierBlockReward)
	}
}
