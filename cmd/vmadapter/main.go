// vmadapter runs the VM adapter of a development chain from the command
// line: it prints configuration and genesis, mines blocks from raw
// transactions and traces them.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	backendFlag = &cli.StringFlag{
		Name:  "backend",
		Usage: "State backend (managed, overlay)",
	}
	hardforkFlag = &cli.StringFlag{
		Name:  "hardfork",
		Usage: "Hardfork active from genesis",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "vmadapter",
		Usage: "development chain EVM adapter",
		Flags: []cli.Flag{configFileFlag, backendFlag, hardforkFlag, verbosityFlag},
		Before: func(ctx *cli.Context) error {
			setupLogging(ctx.Int(verbosityFlag.Name))
			return nil
		},
		Commands: []*cli.Command{
			&dumpConfigCommand,
			&genesisCommand,
			&mineCommand,
		},
	}
}

func setupLogging(verbosity int) {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	glogger.Verbosity(log.FromLegacyLevel(verbosity))
	log.SetDefault(log.NewLogger(glogger))
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
