package aggregator

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/ipfs/go-cid"
)

// Struct mirrors API for jsonrpc client generation.
type Struct struct {
	Internal struct {
		PieceOffer  func(ctx context.Context, req OfferRequest) (OfferResponse, error)
		PieceStatus func(ctx context.Context, p cid.Cid) (Resolution, error)
	}
}

func (s *Struct) PieceOffer(ctx context.Context, req OfferRequest) (OfferResponse, error) {
	return s.Internal.PieceOffer(ctx, req)
}

func (s *Struct) PieceStatus(ctx context.Context, p cid.Cid) (Resolution, error) {
	return s.Internal.PieceStatus(ctx, p)
}

var _ API = (*Struct)(nil)

// NewAggregatorRPC creates a jsonrpc client against the aggregation service
// endpoint.
func NewAggregatorRPC(ctx context.Context, addr string, requestHeader http.Header) (API, jsonrpc.ClientCloser, error) {
	var res Struct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Aggregator",
		[]interface{}{
			&res.Internal,
		},
		requestHeader,
	)
	return &res, closer, err
}
