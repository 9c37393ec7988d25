package vm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

func testHeader(number int64) *types.Header {
	return &types.Header{
		Number:     big.NewInt(number),
		ParentHash: common.HexToHash("0x01"),
		Coinbase:   common.HexToAddress("0xc0ffee"),
		Time:       1_700_000_000,
		GasLimit:   30_000_000,
		BaseFee:    big.NewInt(params.InitialBaseFee),
		Difficulty: big.NewInt(131072),
		MixDigest:  common.HexToHash("0xabcdef"),
	}
}

// TestTranslateDifficultySlot checks that every block at or after the merge
// carries the mix value and every earlier block the literal difficulty.
func TestTranslateDifficultySlot(t *testing.T) {
	sched, err := hardfork.NewSchedule(
		hardfork.Activation{Block: 0, Name: hardfork.Berlin},
		hardfork.Activation{Block: 10, Name: hardfork.London},
		hardfork.Activation{Block: 20, Name: hardfork.Merge},
		hardfork.Activation{Block: 30, Name: hardfork.Cancun},
	)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	tr := NewTranslator(sched.Select)
	mix := new(big.Int).SetBytes(common.HexToHash("0xabcdef").Bytes())

	for n := int64(0); n < 40; n++ {
		env, err := tr.Translate(testHeader(n), false)
		if err != nil {
			t.Fatalf("block %d: %v", n, err)
		}
		if n >= 20 {
			if !env.PostMerge || env.Difficulty.Cmp(mix) != 0 {
				t.Fatalf("block %d: want mix value %v, got %v (postMerge=%v)", n, mix, env.Difficulty, env.PostMerge)
			}
			ctx := env.BlockContext(nil)
			if ctx.Random == nil || *ctx.Random != common.HexToHash("0xabcdef") {
				t.Fatalf("block %d: random not set", n)
			}
			if ctx.Difficulty.Sign() != 0 {
				t.Fatalf("block %d: post-merge difficulty must be zero, got %v", n, ctx.Difficulty)
			}
		} else {
			if env.PostMerge || env.Difficulty.Int64() != 131072 {
				t.Fatalf("block %d: want difficulty 131072, got %v", n, env.Difficulty)
			}
			if ctx := env.BlockContext(nil); ctx.Random != nil {
				t.Fatalf("block %d: random must be nil before the merge", n)
			}
		}
		if n < 10 && env.BaseFee != nil {
			t.Fatalf("block %d: base fee before London", n)
		}
		if n >= 10 && env.BaseFee == nil {
			t.Fatalf("block %d: missing base fee", n)
		}
	}
}

func TestTranslateForceBaseFeeZero(t *testing.T) {
	tr := NewTranslator(hardfork.Fixed(hardfork.Shanghai))
	h := testHeader(5)

	env, err := tr.Translate(h, true)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if env.BaseFee == nil || env.BaseFee.Sign() != 0 {
		t.Fatalf("want zero base fee, got %v", env.BaseFee)
	}
	if h.BaseFee.Int64() != params.InitialBaseFee {
		t.Fatalf("header mutated: %v", h.BaseFee)
	}
	h.BaseFee = nil
	if _, err := tr.Translate(h, true); err != nil {
		t.Fatalf("forced zero base fee must not need a header base fee: %v", err)
	}
}

func TestTranslateErrors(t *testing.T) {
	london := NewTranslator(hardfork.Fixed(hardfork.London))

	if _, err := london.Translate(nil, false); !errors.Is(err, ErrTranslation) {
		t.Fatalf("nil header: want ErrTranslation, got %v", err)
	}
	noNumber := testHeader(1)
	noNumber.Number = nil
	if _, err := london.Translate(noNumber, false); !errors.Is(err, ErrTranslation) {
		t.Fatalf("missing number: want ErrTranslation, got %v", err)
	}
	noFee := testHeader(1)
	noFee.BaseFee = nil
	if _, err := london.Translate(noFee, false); !errors.Is(err, ErrTranslation) {
		t.Fatalf("missing base fee: want ErrTranslation, got %v", err)
	}
	noDifficulty := testHeader(1)
	noDifficulty.Difficulty = nil
	if _, err := london.Translate(noDifficulty, false); !errors.Is(err, ErrTranslation) {
		t.Fatalf("missing difficulty: want ErrTranslation, got %v", err)
	}
	// after the merge the difficulty is irrelevant
	if _, err := NewTranslator(hardfork.Fixed(hardfork.Merge)).Translate(noDifficulty, false); err != nil {
		t.Fatalf("post-merge header without difficulty: %v", err)
	}
	bogus := NewTranslator(hardfork.Fixed("bogus"))
	if _, err := bogus.Translate(testHeader(1), false); !errors.Is(err, ErrTranslation) {
		t.Fatalf("unknown hardfork: want ErrTranslation, got %v", err)
	}
}

func TestBlockEnvEqual(t *testing.T) {
	tr := NewTranslator(hardfork.Fixed(hardfork.London))
	a, _ := tr.Translate(testHeader(3), false)
	b, _ := tr.Translate(testHeader(3), false)
	if !a.Equal(b) {
		t.Fatalf("identical headers must translate to equal environments")
	}
	other := testHeader(3)
	other.Coinbase = common.HexToAddress("0x1234")
	c, _ := tr.Translate(other, false)
	if a.Equal(c) {
		t.Fatalf("different coinbase must not be equal")
	}
	forced, _ := tr.Translate(testHeader(3), true)
	if a.Equal(forced) {
		t.Fatalf("different base fee must not be equal")
	}
}

func TestSelectorFromChainConfig(t *testing.T) {
	for _, name := range []hardfork.Name{hardfork.Homestead, hardfork.Byzantium, hardfork.Berlin, hardfork.London, hardfork.Merge, hardfork.Shanghai, hardfork.Cancun} {
		cfg := hardfork.ChainConfig(1, hardfork.Single(name))
		if got := SelectorFromChainConfig(cfg)(100); got != name {
			t.Fatalf("config for %s resolved to %s", name, got)
		}
	}
}

func TestSelectorFromChainConfigTimestampForks(t *testing.T) {
	cfg := hardfork.ChainConfig(1, hardfork.Single(hardfork.Merge))
	later := uint64(1_700_000_000)
	cfg.ShanghaiTime = &later
	// Selectors see block numbers only, so a timestamp-scheduled fork is
	// never reported.
	if got := SelectorFromChainConfig(cfg)(1_000_000); got != hardfork.Merge {
		t.Fatalf("timestamp fork resolved to %s", got)
	}
	if got := HardforkAt(cfg, 1_000_000, later); got != hardfork.Shanghai {
		t.Fatalf("HardforkAt at the fork time resolved to %s", got)
	}
}
