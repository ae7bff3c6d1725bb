// Package offer consumes submission-trigger messages and offers the piece to
// the external aggregation service. Offering is fire-and-forget from the
// pipeline's perspective: the handler never mutates the piece store, and
// acceptance is observed later by the deal tracker.
package offer

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/aggregator"
	"github.com/filecoin-project/go-storefront/journal"
	"github.com/filecoin-project/go-storefront/metrics"
	"github.com/filecoin-project/go-storefront/mq"
)

var log = logging.Logger("offer")

// Trigger is the submission-trigger message enqueued by the status change
// router after a piece is first inserted.
type Trigger struct {
	Piece   cid.Cid `json:"piece"`
	Content cid.Cid `json:"content"`
	Group   string  `json:"group"`
}

type Config struct {
	// Proof is the capability proof presented with every offer.
	Proof string
	// CallTimeout bounds the aggregator call; a timeout is a transient
	// failure handled by redelivery.
	CallTimeout time.Duration
}

type Handler struct {
	cfg Config
	agg aggregator.API

	journal    journal.Journal
	evtOffered journal.EventType
}

type Option func(*Handler)

// WithJournal records sent offers to the given journal.
func WithJournal(j journal.Journal) Option {
	return func(h *Handler) { h.journal = j }
}

func NewHandler(cfg Config, agg aggregator.API, opts ...Option) *Handler {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	h := &Handler{cfg: cfg, agg: agg, journal: journal.NilJournal()}
	for _, o := range opts {
		o(h)
	}
	h.evtOffered = h.journal.RegisterEventType("offer", "sent")
	return h
}

func (h *Handler) Handle(ctx context.Context, msg *mq.Message) error {
	var t Trigger
	if err := mq.Unmarshal(msg, &t); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()

	resp, err := h.agg.PieceOffer(callCtx, aggregator.OfferRequest{
		Piece:   t.Piece,
		Content: t.Content,
		Proof:   h.cfg.Proof,
	})
	if err != nil {
		_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(metrics.FailureType, "transient")}, metrics.OfferFailures.M(1))
		return xerrors.Errorf("offering piece %s: %w", t.Piece, err)
	}
	if resp.Rejected != "" {
		_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(metrics.FailureType, "rejected")}, metrics.OfferFailures.M(1))
		return mq.Permanent(xerrors.Errorf("aggregator rejected offer for piece %s: %s", t.Piece, resp.Rejected))
	}

	stats.Record(ctx, metrics.OffersSent.M(1))
	log.Infow("piece offered for aggregation", "piece", t.Piece, "content", t.Content)
	h.journal.RecordEvent(h.evtOffered, func() interface{} {
		return map[string]interface{}{
			"piece":   t.Piece.String(),
			"content": t.Content.String(),
			"group":   t.Group,
		}
	})
	return nil
}
