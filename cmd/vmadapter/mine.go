package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/clydemeng/vmadapter/core"
	"github.com/clydemeng/vmadapter/miner"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/urfave/cli/v2"
)

var (
	genesisCommand = cli.Command{
		Action: showGenesis,
		Name:   "genesis",
		Usage:  "Print the genesis header of the configured chain",
	}

	mineCommand = cli.Command{
		Action:    mine,
		Name:      "mine",
		Usage:     "Mine raw transactions into blocks",
		ArgsUsage: "<txfile>",
		Description: `The mine command reads hex encoded signed transactions, one per line,
and mines them into a single block on top of genesis. Empty blocks are
appended with --blocks.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "coinbase", Usage: "Block reward recipient"},
			&cli.IntFlag{Name: "blocks", Usage: "Number of empty blocks to mine afterwards"},
			&cli.BoolFlag{Name: "trace", Usage: "Print a struct log of every included transaction"},
		},
	}
)

func showGenesis(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	_, chain, err := core.New(cfg)
	if err != nil {
		return err
	}
	return printJSON(chain.CurrentHeader())
}

func mine(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	adapter, chain, err := core.New(cfg)
	if err != nil {
		return err
	}
	var txs []*types.Transaction
	if ctx.Args().Len() > 0 {
		if txs, err = readTransactions(ctx.Args().First()); err != nil {
			return err
		}
	}
	mcfg := miner.DefaultConfig
	if s := ctx.String("coinbase"); s != "" {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("invalid coinbase %q", s)
		}
		mcfg.Coinbase = common.HexToAddress(s)
	}
	worker := miner.NewWorker(mcfg, adapter, chain)

	block, _, err := worker.Mine(ctx.Context, txs)
	if err != nil {
		return err
	}
	fmt.Printf("block %d hash %s root %s txs %d gas %d\n", block.NumberU64(), block.Hash(), block.Root(), len(block.Transactions()), block.GasUsed())
	if ctx.Bool("trace") {
		for _, tx := range block.Transactions() {
			res, err := adapter.TraceTransaction(ctx.Context, tx.Hash(), block, &tracing.TraceConfig{EnableReturnData: true})
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
		}
	}
	for i := 0; i < ctx.Int("blocks"); i++ {
		block, _, err := worker.Mine(ctx.Context, nil)
		if err != nil {
			return err
		}
		fmt.Printf("block %d hash %s root %s\n", block.NumberU64(), block.Hash(), block.Root())
	}
	return nil
}

func readTransactions(file string) ([]*types.Transaction, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		txs     []*types.Transaction
		scanner = bufio.NewScanner(f)
		line    int
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		raw, err := hexutil.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", file, line, err)
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", file, line, err)
		}
		txs = append(txs, tx)
	}
	return txs, scanner.Err()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
