// Package router fans out piece store change events to downstream effects.
// It is a declarative mapping from (event kind, resulting status) to actions,
// each delivered to an independent queue with its own dead letter sink, so a
// failing claim issuance never blocks submission triggering and vice versa.
package router

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/claims"
	"github.com/filecoin-project/go-storefront/mq"
	"github.com/filecoin-project/go-storefront/offer"
	"github.com/filecoin-project/go-storefront/piece"
)

var log = logging.Logger("router")

// dedupSize bounds the at-most-once window for redelivered change events.
// Events falling out of the window are re-actioned, which is safe: every
// action is idempotent downstream, keyed by stable identifiers.
const dedupSize = 8192

type Router struct {
	claimQ   *mq.Queue
	offerQ   *mq.Queue
	receiptQ *mq.Queue

	dedup *lru.Cache[string, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a router publishing to the three action queues.
func New(claimQ, offerQ, receiptQ *mq.Queue) (*Router, error) {
	dedup, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return nil, xerrors.Errorf("creating router dedup cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		claimQ:   claimQ,
		offerQ:   offerQ,
		receiptQ: receiptQ,
		dedup:    dedup,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start consumes the given change feed until it closes or the router shuts
// down.
func (r *Router) Start(events <-chan piece.ChangeEvent) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				r.Route(r.ctx, ev)
			}
		}
	}()
}

// Route applies the action table to one change event:
//
//	insert + SUBMITTED        -> issue content claim, enqueue submission trigger
//	update + ACCEPTED|INVALID -> emit terminal receipt
//
// Everything else is ignored. Each (event, action) pair fires at most once
// even when the feed redelivers the event.
func (r *Router) Route(ctx context.Context, ev piece.ChangeEvent) {
	switch {
	case ev.Kind == piece.EventInsert && ev.Record.Status == piece.StatusSubmitted:
		r.dispatch(ctx, ev, "claim", func() error {
			return r.claimQ.Publish(ctx, claims.Claim{
				Piece:   ev.Record.Piece,
				Content: ev.Record.Content,
				Group:   ev.Record.Group,
			})
		})
		r.dispatch(ctx, ev, "offer", func() error {
			return r.offerQ.Publish(ctx, offer.Trigger{
				Piece:   ev.Record.Piece,
				Content: ev.Record.Content,
				Group:   ev.Record.Group,
			})
		})

	case ev.Kind == piece.EventUpdate && ev.Record.Status.Terminal():
		r.dispatch(ctx, ev, "receipt", func() error {
			rcpt := claims.Receipt{
				Piece:    ev.Record.Piece,
				Cause:    ev.Record.Cause,
				Accepted: ev.Record.Status == piece.StatusAccepted,
			}
			if rcpt.Accepted {
				rcpt.Proof = ev.Record.Detail
			} else {
				rcpt.Reason = ev.Record.Detail
			}
			return r.receiptQ.Publish(ctx, rcpt)
		})
	}
}

// dispatch fires one action at most once per event. The dedup mark is taken
// before publishing; a lost action is healed by the deal tracker, a doubled
// one would not be.
func (r *Router) dispatch(ctx context.Context, ev piece.ChangeEvent, action string, publish func() error) {
	key := ev.ID + "/" + action
	if _, seen := r.dedup.Get(key); seen {
		log.Debugw("skipping redelivered change event action", "event", ev.ID, "action", action)
		return
	}
	r.dedup.Add(key, struct{}{})

	if err := publish(); err != nil {
		log.Errorw("failed to dispatch change event action", "event", ev.ID, "action", action, "piece", ev.Record.Piece, "err", err)
		return
	}
	log.Debugw("dispatched change event action", "event", ev.ID, "action", action, "piece", ev.Record.Piece)
}

func (r *Router) Close() {
	r.cancel()
	r.wg.Wait()
}
