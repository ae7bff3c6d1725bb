package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	leveldb "github.com/ipfs/go-ds-leveldb"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/aggregator"
	"github.com/filecoin-project/go-storefront/claims"
	"github.com/filecoin-project/go-storefront/dealtracker"
	"github.com/filecoin-project/go-storefront/journal"
	"github.com/filecoin-project/go-storefront/journal/fsjournal"
	"github.com/filecoin-project/go-storefront/metrics"
	"github.com/filecoin-project/go-storefront/mq"
	"github.com/filecoin-project/go-storefront/offer"
	"github.com/filecoin-project/go-storefront/piece/piecestore"
	"github.com/filecoin-project/go-storefront/router"
	"github.com/filecoin-project/go-storefront/submission"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Run the storefront daemon",
	Action: func(cctx *cli.Context) error {
		_ = logging.SetLogLevel("*", "INFO")

		ctx := cctx.Context

		dir, cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		log.Infow("starting storefront", "repo", dir)

		// Journal.
		jrnl := journal.NilJournal()
		if cfg.Journal.Path != "" {
			disabled, err := journal.ParseDisabledEvents(cfg.Journal.DisabledEvents)
			if err != nil {
				return err
			}
			jrnl, err = fsjournal.OpenFSJournal(repoPath(dir, cfg.Journal.Path), disabled)
			if err != nil {
				return xerrors.Errorf("opening journal: %w", err)
			}
		}
		defer jrnl.Close() //nolint:errcheck

		// Piece store.
		store, err := piecestore.NewSqliteStore(repoPath(dir, cfg.Store.Path))
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		// Dead letter sink.
		dlds, err := leveldb.NewDatastore(repoPath(dir, cfg.DeadLetter.Path), nil)
		if err != nil {
			return xerrors.Errorf("opening dead letter datastore: %w", err)
		}
		defer dlds.Close() //nolint:errcheck

		dlq := mq.NewDeadLetterStore(dlds, time.Duration(cfg.DeadLetter.Retention))
		dlq.StartSweeper(time.Duration(cfg.DeadLetter.SweepInterval))
		defer dlq.Close()

		// Queues, one per pipeline step, sharing the sink but namespaced by
		// queue name.
		qcfg := mq.Config{
			MaxAttempts: cfg.Queues.MaxAttempts,
			BackoffMin:  time.Duration(cfg.Queues.BackoffMin),
			BackoffMax:  time.Duration(cfg.Queues.BackoffMax),
			BufferSize:  cfg.Queues.BufferSize,
		}
		submitQ := mq.NewQueue("piece-submit", qcfg, dlq, mq.WithQueueJournal(jrnl))
		offerQ := mq.NewQueue("piece-offer", qcfg, dlq, mq.WithQueueJournal(jrnl))
		claimQ := mq.NewQueue("content-claim", qcfg, dlq, mq.WithQueueJournal(jrnl))
		receiptQ := mq.NewQueue("receipt", qcfg, dlq, mq.WithQueueJournal(jrnl))
		defer func() {
			submitQ.Close()
			offerQ.Close()
			claimQ.Close()
			receiptQ.Close()
		}()

		// External services.
		agg, aggCloser, err := aggregator.NewAggregatorRPC(ctx, cfg.Aggregator.Endpoint, nil)
		if err != nil {
			return xerrors.Errorf("connecting to aggregator: %w", err)
		}
		defer aggCloser()

		claimSvc, claimsCloser, err := claims.NewClaimsRPC(ctx, cfg.Claims.Endpoint, nil)
		if err != nil {
			return xerrors.Errorf("connecting to claims service: %w", err)
		}
		defer claimsCloser()

		// Change feed fan-out.
		events, unsub := store.SubscribeChanges()
		defer unsub()

		rtr, err := router.New(claimQ, offerQ, receiptQ)
		if err != nil {
			return err
		}
		rtr.Start(events)
		defer rtr.Close()

		// Consumers.
		objects, err := submission.NewDirObjectStore(repoPath(dir, cfg.Objects.Root))
		if err != nil {
			return err
		}

		subHandler := submission.NewHandler(submission.Config{
			Group:            cfg.Objects.Group,
			TrustClientPiece: cfg.Objects.TrustClientPiece,
		}, objects, store, submission.WithJournal(jrnl))
		submitQ.Consume(subHandler.Handle)

		offerHandler := offer.NewHandler(offer.Config{
			Proof:       cfg.Aggregator.Proof,
			CallTimeout: time.Duration(cfg.Aggregator.CallTimeout),
		}, agg, offer.WithJournal(jrnl))
		offerQ.Consume(offerHandler.Handle)

		claimQ.Consume(router.ClaimHandler(claimSvc, time.Duration(cfg.Claims.CallTimeout)))
		receiptQ.Consume(router.ReceiptHandler(claimSvc, time.Duration(cfg.Claims.CallTimeout)))

		// Object watcher feeding the submit queue.
		watcher, err := submission.NewWatcher(repoPath(dir, cfg.Objects.Root), cfg.Objects.Region, submitQ)
		if err != nil {
			return err
		}
		defer watcher.Close() //nolint:errcheck

		// Deal tracker.
		tracker := dealtracker.New(dealtracker.Config{
			Interval:    time.Duration(cfg.Tracker.Interval),
			MinPieceAge: time.Duration(cfg.Tracker.MinPieceAge),
			Concurrency: cfg.Tracker.Concurrency,
			PageSize:    cfg.Tracker.PageSize,
			CallTimeout: time.Duration(cfg.Aggregator.CallTimeout),
		}, store, agg, dealtracker.WithJournal(jrnl))
		tracker.Start()
		defer tracker.Close()

		// Metrics.
		if cfg.Metrics.ListenAddress != "" {
			if err := view.Register(metrics.DefaultViews...); err != nil {
				return xerrors.Errorf("registering metric views: %w", err)
			}
			exporter, err := prometheus.NewExporter(prometheus.Options{
				Namespace: "storefront",
			})
			if err != nil {
				return xerrors.Errorf("creating prometheus exporter: %w", err)
			}
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", exporter)
				log.Infow("serving metrics", "addr", cfg.Metrics.ListenAddress)
				if err := http.ListenAndServe(cfg.Metrics.ListenAddress, mux); err != nil {
					log.Errorw("metrics server failed", "err", err)
				}
			}()
		}

		log.Info("storefront daemon started")

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigCh:
			log.Infow("shutting down", "signal", sig)
		case <-ctx.Done():
		}

		return nil
	},
}
