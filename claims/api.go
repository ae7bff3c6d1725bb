// Package claims defines the boundary to the claim and receipt service:
// content claims issued when a piece is first tracked, and terminal receipts
// referencing the original invocation once a piece resolves. Both operations
// are idempotent by key on the service side, so redelivering the same claim
// or receipt is a harmless no-op.
package claims

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Claim asserts that a piece was derived from the given content. Keyed by
// (piece, content).
type Claim struct {
	Piece   cid.Cid `json:"piece"`
	Content cid.Cid `json:"content"`
	Group   string  `json:"group"`
}

// Receipt reports the terminal outcome for the invocation identified by
// Cause. Keyed by (piece, cause).
type Receipt struct {
	Piece cid.Cid `json:"piece"`
	Cause string  `json:"cause"`
	// Accepted selects between the acceptance and rejection variants.
	Accepted bool `json:"accepted"`
	// Proof is set for acceptance receipts, Reason for rejections.
	Proof  string `json:"proof,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type API interface {
	IssueClaim(ctx context.Context, c Claim) error
	EmitReceipt(ctx context.Context, r Receipt) error
}
