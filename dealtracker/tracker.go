// Package dealtracker implements the periodic reconciliation job that
// advances pieces stuck in a non-terminal status. It is the pipeline's
// self-healing mechanism: whatever messages were lost or dead-lettered along
// the way, the tracker eventually observes the aggregator's resolution and
// issues the terminal transition.
//
// The terminal receipt is not emitted here directly: the conditional status
// update publishes a change event, and the status change router turns that
// into exactly one receipt. An update that was not applied publishes nothing,
// which is what makes replayed resolutions free of duplicate receipts.
package dealtracker

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/aggregator"
	"github.com/filecoin-project/go-storefront/build"
	"github.com/filecoin-project/go-storefront/journal"
	"github.com/filecoin-project/go-storefront/metrics"
	"github.com/filecoin-project/go-storefront/piece"
)

var log = logging.Logger("dealtracker")

type Config struct {
	// Interval between ticks. Ticks never overlap; a slow tick delays the
	// next one.
	Interval time.Duration
	// MinPieceAge is the age floor: pieces younger than this are skipped,
	// they cannot have a resolution yet.
	MinPieceAge time.Duration
	// Concurrency bounds simultaneous aggregator status queries within a
	// tick.
	Concurrency int
	// PageSize bounds store scan pages.
	PageSize int
	// CallTimeout bounds each aggregator status query.
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		MinPieceAge: 10 * time.Minute,
		Concurrency: 8,
		PageSize:    100,
		CallTimeout: 30 * time.Second,
	}
}

type Tracker struct {
	cfg   Config
	store piece.Store
	agg   aggregator.API
	clock clock.Clock

	journal       journal.Journal
	evtResolution journal.EventType

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
}

type Option func(*Tracker)

// WithClock overrides the tracker clock; used by tests.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithJournal records resolution events to the given journal.
func WithJournal(j journal.Journal) Option {
	return func(t *Tracker) { t.journal = j }
}

func New(cfg Config, store piece.Store, agg aggregator.API, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:     cfg,
		store:   store,
		agg:     agg,
		clock:   build.Clock,
		journal: journal.NilJournal(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(t)
	}
	t.evtResolution = t.journal.RegisterEventType("dealtracker", "resolution")

	return t
}

// Start launches the tick loop. Ticks run sequentially with respect to each
// other.
func (t *Tracker) Start() {
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.run()
	})
}

func (t *Tracker) run() {
	defer t.wg.Done()

	ticker := t.clock.Ticker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.Tick(t.ctx); err != nil {
				log.Errorw("deal tracker tick finished with errors", "err", err)
			}
		case <-t.ctx.Done():
			return
		}
	}
}

// Tick runs one reconciliation pass: scan non-terminal pieces past the age
// floor, query the aggregator for each, and apply terminal transitions. One
// piece's failure never aborts the rest of the batch.
func (t *Tracker) Tick(ctx context.Context) error {
	start := t.clock.Now()
	stats.Record(ctx, metrics.TrackerTicks.M(1))

	filter := piece.ScanFilter{
		Statuses:       piece.NonTerminalStatuses(),
		InsertedBefore: start.Add(-t.cfg.MinPieceAge),
		Limit:          t.cfg.PageSize,
	}

	var (
		mu   sync.Mutex
		merr *multierror.Error
	)

	g := &errgroup.Group{}
	g.SetLimit(t.cfg.Concurrency)

	var scanned int
	err := piece.ForEach(ctx, t.store, filter, func(rec piece.Record) error {
		scanned++
		g.Go(func() error {
			if err := t.resolve(ctx, rec); err != nil {
				stats.Record(ctx, metrics.TrackerItemFailures.M(1))
				log.Warnw("failed to resolve piece, leaving for next tick", "piece", rec.Piece, "err", err)
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			return nil
		})
		return nil
	})
	_ = g.Wait()

	if err != nil {
		mu.Lock()
		merr = multierror.Append(merr, xerrors.Errorf("scanning pieces: %w", err))
		mu.Unlock()
	}

	elapsed := t.clock.Now().Sub(start)
	stats.Record(ctx, metrics.TrackerTickDuration.M(float64(elapsed.Milliseconds())))

	var nerrs int
	if merr != nil {
		nerrs = merr.Len()
	}
	log.Infow("deal tracker tick done", "scanned", scanned, "took", elapsed, "errors", nerrs)

	return merr.ErrorOrNil()
}

// resolve queries the aggregator for one piece and applies the terminal
// transition when resolved. The update is conditional on the status observed
// during the scan; if the record moved on in the meantime we lose the race
// harmlessly.
func (t *Tracker) resolve(ctx context.Context, rec piece.Record) error {
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
	res, err := t.agg.PieceStatus(callCtx, rec.Piece)
	cancel()
	if err != nil {
		return xerrors.Errorf("querying aggregator for piece %s: %w", rec.Piece, err)
	}

	var (
		to     piece.Status
		detail string
	)
	switch res.State {
	case aggregator.StateUnresolved:
		return nil
	case aggregator.StateAccepted:
		to, detail = piece.StatusAccepted, res.Proof
	case aggregator.StateInvalid:
		to, detail = piece.StatusInvalid, res.Reason
	default:
		return xerrors.Errorf("aggregator returned unknown resolution state %q for piece %s", res.State, rec.Piece)
	}

	upd, err := t.store.UpdateStatus(ctx, rec.Piece, rec.Status, to, detail)
	if err != nil {
		return xerrors.Errorf("updating piece %s to %s: %w", rec.Piece, to, err)
	}
	if !upd.Applied {
		log.Debugw("piece already transitioned", "piece", rec.Piece, "observed", rec.Status)
		return nil
	}

	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(metrics.PieceStatus, to.String())}, metrics.PiecesResolved.M(1))
	log.Infow("piece resolved", "piece", rec.Piece, "status", to, "detail", detail)

	t.journal.RecordEvent(t.evtResolution, func() interface{} {
		return map[string]interface{}{
			"piece":  rec.Piece.String(),
			"status": to.String(),
			"detail": detail,
		}
	})

	return nil
}

func (t *Tracker) Close() {
	t.cancel()
	t.wg.Wait()
}
