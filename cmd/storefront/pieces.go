package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/piece"
	"github.com/filecoin-project/go-storefront/piece/piecestore"
)

var piecesCmd = &cli.Command{
	Name:  "pieces",
	Usage: "Inspect tracked pieces",
	Subcommands: []*cli.Command{
		piecesListCmd,
		piecesShowCmd,
	},
}

func openStore(cctx *cli.Context) (*piecestore.SqliteStore, error) {
	dir, cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}
	return piecestore.NewSqliteStore(repoPath(dir, cfg.Store.Path))
}

var piecesListCmd = &cli.Command{
	Name:  "list",
	Usage: "List tracked pieces",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "status",
			Usage: "filter by status (submitted | offered | accepted | invalid)",
		},
	},
	Action: func(cctx *cli.Context) error {
		store, err := openStore(cctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		var filter piece.ScanFilter
		if s := cctx.String("status"); s != "" {
			st, err := piece.ParseStatus(s)
			if err != nil {
				return err
			}
			filter.Statuses = []piece.Status{st}
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PIECE\tCONTENT\tGROUP\tSTATUS\tUPDATED")

		err = piece.ForEach(cctx.Context, store, filter, func(rec piece.Record) error {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.Piece, rec.Content, rec.Group, rec.Status, rec.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		})
		if err != nil {
			return err
		}
		return w.Flush()
	},
}

var piecesShowCmd = &cli.Command{
	Name:      "show",
	Usage:     "Show a tracked piece",
	ArgsUsage: "<piece-cid>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return xerrors.New("expected piece cid argument")
		}
		p, err := cid.Parse(cctx.Args().First())
		if err != nil {
			return xerrors.Errorf("parsing piece cid: %w", err)
		}

		store, err := openStore(cctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		rec, err := store.Get(cctx.Context, p)
		if err != nil {
			return err
		}

		fmt.Printf("Piece:     %s\n", rec.Piece)
		fmt.Printf("Content:   %s\n", rec.Content)
		fmt.Printf("Group:     %s\n", rec.Group)
		fmt.Printf("Status:    %s\n", rec.Status)
		fmt.Printf("Cause:     %s\n", rec.Cause)
		if rec.Detail != "" {
			fmt.Printf("Detail:    %s\n", rec.Detail)
		}
		fmt.Printf("Inserted:  %s\n", rec.InsertedAt)
		fmt.Printf("Updated:   %s\n", rec.UpdatedAt)
		return nil
	},
}
