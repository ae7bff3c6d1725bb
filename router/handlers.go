package router

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/claims"
	"github.com/filecoin-project/go-storefront/metrics"
	"github.com/filecoin-project/go-storefront/mq"
	"github.com/filecoin-project/go-storefront/piece"
)

// ClaimHandler consumes the claim queue, issuing content claims. Claim
// issuance is idempotent by (piece, content), so redelivery is harmless.
func ClaimHandler(svc claims.API, callTimeout time.Duration) mq.Handler {
	return func(ctx context.Context, msg *mq.Message) error {
		var c claims.Claim
		if err := mq.Unmarshal(msg, &c); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		if err := svc.IssueClaim(callCtx, c); err != nil {
			return xerrors.Errorf("issuing claim for piece %s: %w", c.Piece, err)
		}

		stats.Record(ctx, metrics.ClaimsIssued.M(1))
		log.Infow("content claim issued", "piece", c.Piece, "content", c.Content)
		return nil
	}
}

// ReceiptHandler consumes the receipt queue, emitting terminal receipts for
// the original invocation. Emission is idempotent by (piece, cause).
func ReceiptHandler(svc claims.API, callTimeout time.Duration) mq.Handler {
	return func(ctx context.Context, msg *mq.Message) error {
		var r claims.Receipt
		if err := mq.Unmarshal(msg, &r); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		if err := svc.EmitReceipt(callCtx, r); err != nil {
			return xerrors.Errorf("emitting receipt for piece %s: %w", r.Piece, err)
		}

		status := piece.StatusInvalid
		if r.Accepted {
			status = piece.StatusAccepted
		}
		_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(metrics.PieceStatus, status.String())}, metrics.ReceiptsEmitted.M(1))
		log.Infow("terminal receipt emitted", "piece", r.Piece, "cause", r.Cause, "accepted", r.Accepted)
		return nil
	}
}
