// Package submission consumes object-written events, derives the piece
// identifier for the referenced bytes and performs the first conditional
// insert into the piece store. The insert itself is the trigger for all
// downstream effects, via the store change feed; the handler never invokes
// them directly.
package submission

import (
	"context"
	"path"
	"strings"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/commp"
	"github.com/filecoin-project/go-storefront/journal"
	"github.com/filecoin-project/go-storefront/metrics"
	"github.com/filecoin-project/go-storefront/mq"
	"github.com/filecoin-project/go-storefront/piece"
)

var log = logging.Logger("submission")

// ObjectEvent describes a write to the object store. Key encodes the content
// identifier. Piece optionally carries a precomputed piece CID for
// deployments where compute is disabled.
type ObjectEvent struct {
	Region string `json:"region"`
	Bucket string `json:"bucketName"`
	Key    string `json:"key"`
	Piece  string `json:"piece,omitempty"`
}

// ObjectStore fetches the referenced bytes. Errors are treated as transient;
// an object-written event for bytes we cannot read yet resolves on
// redelivery.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

type Config struct {
	// Group is the owning tenant recorded on every piece this handler
	// creates.
	Group string
	// TrustClientPiece skips piece commitment compute and accepts the
	// event-provided piece CID after format validation.
	TrustClientPiece bool
}

type Handler struct {
	cfg     Config
	objects ObjectStore
	store   piece.Store

	journal      journal.Journal
	evtSubmitted journal.EventType
}

type Option func(*Handler)

// WithJournal records piece submissions to the given journal.
func WithJournal(j journal.Journal) Option {
	return func(h *Handler) { h.journal = j }
}

func NewHandler(cfg Config, objects ObjectStore, store piece.Store, opts ...Option) *Handler {
	h := &Handler{cfg: cfg, objects: objects, store: store, journal: journal.NilJournal()}
	for _, o := range opts {
		o(h)
	}
	h.evtSubmitted = h.journal.RegisterEventType("submission", "submitted")
	return h
}

// Handle processes one object-written event. Validation failures are
// permanent and dead-letter immediately; store and object-store failures are
// transient and redeliver.
func (h *Handler) Handle(ctx context.Context, msg *mq.Message) error {
	var ev ObjectEvent
	if err := mq.Unmarshal(msg, &ev); err != nil {
		return err
	}

	content, err := contentFromKey(ev.Key)
	if err != nil {
		return mq.Permanent(err)
	}

	pieceCid, err := h.derivePiece(ctx, ev)
	if err != nil {
		var verr *piece.ValidationError
		if xerrors.As(err, &verr) {
			return mq.Permanent(err)
		}
		return err
	}

	rec := piece.Record{
		Piece:   pieceCid,
		Content: content,
		Group:   h.cfg.Group,
		Status:  piece.StatusSubmitted,
		Cause:   msg.ID,
	}

	res, err := h.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		var cerr *piece.ConflictError
		if xerrors.As(err, &cerr) {
			// Corruption signal: same piece, different content or group.
			// Surfaced to the operator via the dead letter sink, never
			// retried.
			log.Errorw("piece record conflict", "piece", pieceCid, "content", content, "err", err)
			return mq.Permanent(err)
		}
		return xerrors.Errorf("inserting piece %s: %w", pieceCid, err)
	}

	if res.Created {
		stats.Record(ctx, metrics.PiecesSubmitted.M(1))
		log.Infow("piece submitted", "piece", pieceCid, "content", content, "group", h.cfg.Group)
		h.journal.RecordEvent(h.evtSubmitted, func() interface{} {
			return map[string]interface{}{
				"piece":   pieceCid.String(),
				"content": content.String(),
				"group":   h.cfg.Group,
				"cause":   msg.ID,
			}
		})
	} else {
		stats.Record(ctx, metrics.PiecesDuplicate.M(1))
		log.Debugw("duplicate piece submission", "piece", pieceCid)
	}

	return nil
}

func (h *Handler) derivePiece(ctx context.Context, ev ObjectEvent) (cid.Cid, error) {
	if h.cfg.TrustClientPiece && ev.Piece != "" {
		c, err := cid.Parse(ev.Piece)
		if err != nil {
			return cid.Undef, &piece.ValidationError{Reason: "malformed piece cid", Err: err}
		}
		if err := commp.ValidatePieceCID(c); err != nil {
			return cid.Undef, err
		}
		return c, nil
	}

	data, err := h.objects.Get(ctx, ev.Bucket, ev.Key)
	if err != nil {
		return cid.Undef, xerrors.Errorf("reading object %s/%s: %w", ev.Bucket, ev.Key, err)
	}

	c, _, err := commp.PieceCID(data)
	if err != nil {
		return cid.Undef, err
	}
	return c, nil
}

// contentFromKey extracts the content identifier from an object key laid out
// as <content>/<content>.car.
func contentFromKey(key string) (cid.Cid, error) {
	base := strings.TrimSuffix(path.Base(key), ".car")
	c, err := cid.Parse(base)
	if err != nil {
		return cid.Undef, &piece.ValidationError{Reason: "object key does not encode a content cid", Err: xerrors.Errorf("%q: %w", key, err)}
	}
	return c, nil
}
