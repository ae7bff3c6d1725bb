// Package aggregator defines the boundary to the external aggregation
// service: offering pieces for aggregation and polling for deal resolution.
// The service is the sole authority on both; this pipeline only observes.
package aggregator

import (
	"context"

	"github.com/ipfs/go-cid"
)

// ResolutionState is the aggregator's view of a piece.
type ResolutionState string

const (
	// StateUnresolved means the aggregator has not resolved the piece yet.
	StateUnresolved ResolutionState = "unresolved"
	// StateAccepted means the piece landed in a deal; Proof carries the
	// evidence.
	StateAccepted ResolutionState = "accepted"
	// StateInvalid means the aggregator rejected the piece; Reason says why.
	StateInvalid ResolutionState = "invalid"
)

// Resolution is the answer to a piece status query.
type Resolution struct {
	State  ResolutionState `json:"state"`
	Proof  string          `json:"proof,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// OfferRequest offers a piece for aggregation. Proof is the capability proof
// authorizing the offer; it is opaque here.
type OfferRequest struct {
	Piece   cid.Cid `json:"piece"`
	Content cid.Cid `json:"content"`
	Proof   string  `json:"proof"`
}

// OfferResponse reports the aggregator's answer. Rejected is empty when the
// offer was taken; a non-empty value is a permanent rejection (malformed
// proof, unknown aggregator) that must not be retried.
type OfferResponse struct {
	Rejected string `json:"rejected,omitempty"`
}

// API is the aggregation service surface this pipeline consumes. Transport
// errors are transient; rejection is data, not error, so it survives any
// transport.
type API interface {
	PieceOffer(ctx context.Context, req OfferRequest) (OfferResponse, error)
	PieceStatus(ctx context.Context, p cid.Cid) (Resolution, error)
}
