package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/mq"
)

var dlqCmd = &cli.Command{
	Name:  "dlq",
	Usage: "Inspect and replay dead-lettered messages (run against a stopped daemon; the daemon picks up replays on its next poll)",
	Subcommands: []*cli.Command{
		dlqListCmd,
		dlqReplayCmd,
	},
}

func openDeadLetters(cctx *cli.Context) (*mq.DeadLetterStore, func(), error) {
	dir, cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, nil, err
	}
	ds, err := leveldb.NewDatastore(repoPath(dir, cfg.DeadLetter.Path), nil)
	if err != nil {
		return nil, nil, xerrors.Errorf("opening dead letter datastore: %w", err)
	}
	dlq := mq.NewDeadLetterStore(ds, time.Duration(cfg.DeadLetter.Retention))
	return dlq, func() {
		dlq.Close()
		_ = ds.Close()
	}, nil
}

var dlqListCmd = &cli.Command{
	Name:      "list",
	Usage:     "List dead-lettered messages",
	ArgsUsage: "[queue]",
	Action: func(cctx *cli.Context) error {
		dlq, closer, err := openDeadLetters(cctx)
		if err != nil {
			return err
		}
		defer closer()

		letters, err := dlq.List(cctx.Context, cctx.Args().First())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "QUEUE\tMESSAGE\tATTEMPTS\tFAILED\tREASON")
		for _, dl := range letters {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				dl.Queue, dl.Message.ID, dl.Message.Attempts, dl.FailedAt.Format(time.RFC3339), dl.Reason)
		}
		return w.Flush()
	},
}

var dlqReplayCmd = &cli.Command{
	Name:      "replay",
	Usage:     "Mark a dead-lettered message for redelivery",
	ArgsUsage: "<queue> <message-id>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return xerrors.New("expected queue and message id arguments")
		}

		dlq, closer, err := openDeadLetters(cctx)
		if err != nil {
			return err
		}
		defer closer()

		if err := dlq.Replay(cctx.Context, cctx.Args().Get(0), cctx.Args().Get(1)); err != nil {
			return err
		}
		fmt.Println("message marked for replay")
		return nil
	},
}
