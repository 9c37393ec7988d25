package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"unicode"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/clydemeng/vmadapter/statebridge"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"
)

// Config is the adapter configuration.
type Config struct {
	ChainID uint64
	Backend statebridge.Kind

	// Hardfork is used for every block unless HardforkHistory is set.
	Hardfork        hardfork.Name
	HardforkHistory []hardfork.Activation `toml:",omitempty"`

	DisableBlockGasLimit bool
	DisableEIP3607       bool
	BlockGasLimit        uint64

	Genesis []GenesisAccount `toml:",omitempty"`
}

// GenesisAccount is a pre-funded account of the genesis state.
type GenesisAccount struct {
	Address common.Address
	Balance *math.HexOrDecimal256
	Nonce   uint64            `toml:",omitempty"`
	Code    hexutil.Bytes     `toml:",omitempty"`
	Storage map[string]string `toml:",omitempty"` // hex slot -> hex value
}

// DefaultConfig contains default settings for a development chain.
var DefaultConfig = Config{
	ChainID:        1337,
	Backend:        statebridge.DefaultKind,
	Hardfork:       hardfork.Prague,
	BlockGasLimit:  30_000_000,
	DisableEIP3607: true,
}

// Schedule returns the hardfork schedule described by the config.
func (c *Config) Schedule() (hardfork.Schedule, error) {
	if len(c.HardforkHistory) > 0 {
		return hardfork.NewSchedule(c.HardforkHistory...)
	}
	if !c.Hardfork.Valid() {
		return nil, fmt.Errorf("unknown hardfork %q", c.Hardfork)
	}
	return hardfork.Single(c.Hardfork), nil
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// LoadConfig reads a TOML file on top of cfg.
func LoadConfig(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = DecodeConfig(bufio.NewReader(f), cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// DecodeConfig reads TOML from r on top of cfg.
func DecodeConfig(r io.Reader, cfg *Config) error {
	return tomlSettings.NewDecoder(r).Decode(cfg)
}

// EncodeConfig writes cfg as TOML.
func EncodeConfig(w io.Writer, cfg *Config) error {
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// New builds an adapter over a fresh in-memory state database holding the
// configured genesis allocation. The returned chain holds the genesis header
// and serves ancestor lookups for the adapter.
func New(cfg *Config) (*Adapter, *MemoryChain, error) {
	kind, err := statebridge.ParseKind(string(cfg.Backend))
	if err != nil {
		return nil, nil, err
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, nil, err
	}
	db := statebridge.NewMemoryDatabase()
	root, err := CommitGenesis(db, cfg.Genesis)
	if err != nil {
		return nil, nil, err
	}
	backend, err := statebridge.New(kind, db, root)
	if err != nil {
		return nil, nil, err
	}
	chainConfig := hardfork.ChainConfig(cfg.ChainID, schedule)
	chain := NewMemoryChain(GenesisHeader(schedule.Select, root, cfg.BlockGasLimit))

	adapter := NewAdapter(backend, vm.NewEngine(chainConfig), Options{
		ChainConfig:          chainConfig,
		SelectHardfork:       schedule.Select,
		Chain:                chain,
		DisableBlockGasLimit: cfg.DisableBlockGasLimit,
		DisableEIP3607:       cfg.DisableEIP3607,
	})
	log.Info("Initialised genesis state", "root", root, "accounts", len(cfg.Genesis), "hardfork", schedule.Select(0))
	return adapter, chain, nil
}
