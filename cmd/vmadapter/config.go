package main

import (
	"fmt"
	"os"

	"github.com/clydemeng/vmadapter/core"
	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/clydemeng/vmadapter/statebridge"
	"github.com/urfave/cli/v2"
)

var dumpConfigCommand = cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	Description: `The dumpconfig command shows configuration values.`,
}

// loadConfig applies the config file and flags on top of the defaults.
func loadConfig(ctx *cli.Context) (*core.Config, error) {
	cfg := core.DefaultConfig
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := core.LoadConfig(file, &cfg); err != nil {
			return nil, err
		}
	}
	if ctx.IsSet(backendFlag.Name) {
		kind, err := statebridge.ParseKind(ctx.String(backendFlag.Name))
		if err != nil {
			return nil, err
		}
		cfg.Backend = kind
	}
	if ctx.IsSet(hardforkFlag.Name) {
		fork, err := hardfork.Parse(ctx.String(hardforkFlag.Name))
		if err != nil {
			return nil, err
		}
		cfg.Hardfork, cfg.HardforkHistory = fork, nil
	}
	return &cfg, nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := core.EncodeConfig(os.Stdout, cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
