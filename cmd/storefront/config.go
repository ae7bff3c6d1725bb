package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/go-storefront/config"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Inspect storefront configuration",
	Subcommands: []*cli.Command{
		configDefaultCmd,
	},
}

var configDefaultCmd = &cli.Command{
	Name:  "default",
	Usage: "Print the default configuration",
	Action: func(cctx *cli.Context) error {
		b, err := config.Dump(config.DefaultStorefront())
		if err != nil {
			return err
		}
		fmt.Print(string(b))
		return nil
	},
}
