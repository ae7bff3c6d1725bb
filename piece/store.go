package piece

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
)

// EventKind distinguishes the two store mutations that downstream consumers
// react to.
type EventKind int

const (
	EventInsert EventKind = iota
	EventUpdate
)

func (k EventKind) String() string {
	if k == EventInsert {
		return "insert"
	}
	return "update"
}

// ChangeEvent is published by the store after every successful write. It is
// the in-process analogue of a database change feed: delivery is best effort
// (the deal tracker heals missed events), and consumers must treat redelivery
// of the same ID as a no-op.
type ChangeEvent struct {
	// ID uniquely identifies the mutation that produced this event.
	ID     string
	Kind   EventKind
	Record Record
	// Previous is the status before the mutation; equal to Record.Status for
	// inserts.
	Previous Status
}

// InsertResult reports whether a conditional insert created a new record.
type InsertResult struct {
	Created bool
}

// UpdateResult reports whether a conditional status update was applied.
// Applied=false means the record had already moved on, which callers treat as
// success.
type UpdateResult struct {
	Applied bool
}

// ScanFilter selects records for a paginated scan.
type ScanFilter struct {
	// Statuses restricts the scan to records in any of the given states.
	Statuses []Status
	// InsertedBefore, when non-zero, skips records younger than the given
	// time. The deal tracker uses this as its age floor.
	InsertedBefore time.Time
	// Cursor resumes a scan after the given piece key. Empty starts from the
	// beginning.
	Cursor string
	// Limit bounds the page size. Zero means the store default.
	Limit int
}

// ScanPage is one page of scan results. NextCursor is empty when the scan is
// exhausted.
type ScanPage struct {
	Records    []Record
	NextCursor string
}

// Store is the contract the pipeline builds its idempotency on. All writes
// are conditional; concurrent conflicting writers lose the race harmlessly.
type Store interface {
	// InsertIfAbsent atomically inserts rec if no record exists for
	// rec.Piece. A duplicate with identical content/group is a no-op
	// (Created=false); a duplicate disagreeing on content or group fails
	// with *ConflictError.
	InsertIfAbsent(ctx context.Context, rec Record) (InsertResult, error)

	// UpdateStatus advances the piece from exactly `from` to `to`, storing
	// detail (proof or reason) alongside. Applied=false (not an error) when
	// the stored status no longer equals `from`.
	UpdateStatus(ctx context.Context, piece cid.Cid, from, to Status, detail string) (UpdateResult, error)

	// Get returns the record for the given piece, or ErrNotFound.
	Get(ctx context.Context, piece cid.Cid) (Record, error)

	// Scan returns one page of records matching filter. Pages are not a
	// snapshot; records may mutate between pages. That staleness is safe
	// because every downstream write re-checks via UpdateStatus.
	Scan(ctx context.Context, filter ScanFilter) (*ScanPage, error)
}

// ForEach pages through all records matching filter, invoking fn for each.
// Iteration stops on the first error from fn.
func ForEach(ctx context.Context, s Store, filter ScanFilter, fn func(Record) error) error {
	for {
		page, err := s.Scan(ctx, filter)
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		filter.Cursor = page.NextCursor
	}
}
