package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/filecoin-project/go-storefront/build"
)

var log = logging.Logger("storefront")

func main() {
	app := &cli.App{
		Name:    "storefront",
		Usage:   "Track content pieces from submission through aggregation to deal resolution",
		Version: build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Usage:   "storefront repo directory",
				Value:   "~/.storefront",
				EnvVars: []string{"STOREFRONT_PATH"},
			},
		},
		Commands: []*cli.Command{
			runCmd,
			configCmd,
			piecesCmd,
			dlqCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
