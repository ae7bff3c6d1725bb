package piece

import (
	"time"

	"github.com/ipfs/go-cid"
)

// Record is the single row tracked per piece. Piece is the primary key;
// Content and Group are immutable once written, Status only moves forward.
type Record struct {
	// Piece is the content-derived identifier of the aggregation unit
	// (piece commitment CID).
	Piece cid.Cid
	// Content is the identifier of the uploaded data the piece was derived
	// from.
	Content cid.Cid
	// Group identifies the owning tenant/space.
	Group string
	// Status is the current lifecycle state.
	Status Status
	// Cause is an opaque identifier of the invocation or event that produced
	// this record. It is a provenance link, never dereferenced here.
	Cause string
	// Detail carries the terminal resolution payload: the deal proof for
	// accepted pieces, the rejection reason for invalid ones.
	Detail string

	InsertedAt time.Time
	UpdatedAt  time.Time
}
