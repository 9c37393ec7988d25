package hardfork

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/params"
)

// ChainConfig builds the go-ethereum chain description of the schedule.
// Block-numbered forks activate at their scheduled block. The schedule is
// keyed by block number only, so timestamp forks after the merge are marked
// active at time zero once the schedule reaches them. The result describes
// the chain; it is not the execution rules of a given block, see Rules.
func ChainConfig(chainID uint64, s Schedule) *params.ChainConfig {
	cfg := &params.ChainConfig{
		ChainID: new(big.Int).SetUint64(chainID),
		Ethash:  new(params.EthashConfig),
	}
	block := func(n Name) *big.Int {
		if at, ok := s.activationOf(n); ok {
			return new(big.Int).SetUint64(at)
		}
		return nil
	}
	ts := func(n Name) *uint64 {
		if _, ok := s.activationOf(n); ok {
			zero := uint64(0)
			return &zero
		}
		return nil
	}
	cfg.HomesteadBlock = block(Homestead)
	cfg.EIP150Block = block(TangerineWhistle)
	cfg.EIP155Block = block(SpuriousDragon)
	cfg.EIP158Block = block(SpuriousDragon)
	cfg.ByzantiumBlock = block(Byzantium)
	cfg.ConstantinopleBlock = block(Constantinople)
	cfg.PetersburgBlock = block(Petersburg)
	cfg.IstanbulBlock = block(Istanbul)
	cfg.MuirGlacierBlock = block(MuirGlacier)
	cfg.BerlinBlock = block(Berlin)
	cfg.LondonBlock = block(London)
	cfg.ArrowGlacierBlock = block(ArrowGlacier)
	cfg.GrayGlacierBlock = block(GrayGlacier)

	if at := block(Merge); at != nil {
		cfg.MergeNetsplitBlock = at
		cfg.TerminalTotalDifficulty = big.NewInt(0)
	}
	cfg.ShanghaiTime = ts(Shanghai)
	cfg.CancunTime = ts(Cancun)
	cfg.PragueTime = ts(Prague)

	if cfg.CancunTime != nil {
		cfg.BlobScheduleConfig = &params.BlobScheduleConfig{
			Cancun: params.DefaultCancunBlobConfig,
			Prague: params.DefaultPragueBlobConfig,
		}
	}
	return cfg
}

// Rules hands out execution rules per hardfork: the chain rules of a chain
// running that hardfork, and every one before it, from genesis. A block
// executes under the rules of the hardfork its selector reports.
type Rules struct {
	chainID uint64

	mu      sync.Mutex
	configs map[Name]*params.ChainConfig
}

func NewRules(chainID uint64) *Rules {
	return &Rules{chainID: chainID, configs: make(map[Name]*params.ChainConfig)}
}

// At returns the rules of n. The returned config is shared and must not be
// modified.
func (r *Rules) At(n Name) *params.ChainConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[n]
	if !ok {
		cfg = ChainConfig(r.chainID, Single(n))
		r.configs[n] = cfg
	}
	return cfg
}
