package piece

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

// ErrNotFound is returned when a status update targets a piece that was never
// inserted.
var ErrNotFound = errors.New("piece not found")

// ConflictError means the store already holds a record for the same piece with
// different content or group. This is a corruption signal from upstream; it is
// surfaced, never retried.
type ConflictError struct {
	Piece cid.Cid

	ExistingContent cid.Cid
	ExistingGroup   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("piece %s already tracked with conflicting content/group (content=%s group=%s)",
		e.Piece, e.ExistingContent, e.ExistingGroup)
}

// ValidationError means the input can never be made into a valid piece.
// Messages failing this way are dead-lettered without retry.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("piece validation failed: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("piece validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
