package claims

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"
)

// Struct mirrors API for jsonrpc client generation.
type Struct struct {
	Internal struct {
		IssueClaim  func(ctx context.Context, c Claim) error
		EmitReceipt func(ctx context.Context, r Receipt) error
	}
}

func (s *Struct) IssueClaim(ctx context.Context, c Claim) error {
	return s.Internal.IssueClaim(ctx, c)
}

func (s *Struct) EmitReceipt(ctx context.Context, r Receipt) error {
	return s.Internal.EmitReceipt(ctx, r)
}

var _ API = (*Struct)(nil)

// NewClaimsRPC creates a jsonrpc client against the claim service endpoint.
func NewClaimsRPC(ctx context.Context, addr string, requestHeader http.Header) (API, jsonrpc.ClientCloser, error) {
	var res Struct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Claims",
		[]interface{}{
			&res.Internal,
		},
		requestHeader,
	)
	return &res, closer, err
}
