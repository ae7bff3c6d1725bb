// Package piecestore implements the piece tracking store on sqlite.
//
// Every write is conditional: inserts are keyed on the piece CID, status
// updates compare-and-swap on the current status. Successful writes publish a
// typed change event to subscribers, which stands in for the record store's
// change feed.
package piecestore

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-storefront/build"
	"github.com/filecoin-project/go-storefront/lib/sqlite"
	"github.com/filecoin-project/go-storefront/piece"
)

var log = logging.Logger("piecestore")

const defaultScanLimit = 100

var _ piece.Store = (*SqliteStore)(nil)

type SqliteStore struct {
	db    *sql.DB
	clock clock.Clock

	insertStmt *sql.Stmt
	getStmt    *sql.Stmt
	updateStmt *sql.Stmt
	hasStmt    *sql.Stmt

	mu           sync.Mutex
	changeSubs   map[uint64]chan piece.ChangeEvent
	subIdCounter uint64

	closeLk sync.Mutex
	closed  bool
}

type Option func(*SqliteStore)

// WithClock overrides the store clock; used by tests to control timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *SqliteStore) { s.clock = c }
}

func NewSqliteStore(path string, opts ...Option) (*SqliteStore, error) {
	db, _, err := sqlite.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to open piece store db: %w", err)
	}

	if err := sqlite.InitDb(context.Background(), "piece store", db, ddls, nil); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("failed to init piece store db: %w", err)
	}

	s := &SqliteStore{
		db:         db,
		clock:      build.Clock,
		changeSubs: make(map[uint64]chan piece.ChangeEvent),
	}
	for _, o := range opts {
		o(s)
	}

	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SqliteStore) prepareStatements() error {
	var err error
	if s.insertStmt, err = s.db.Prepare(stmtInsertPiece); err != nil {
		return xerrors.Errorf("prepare insert statement: %w", err)
	}
	if s.getStmt, err = s.db.Prepare(stmtGetPiece); err != nil {
		return xerrors.Errorf("prepare get statement: %w", err)
	}
	if s.updateStmt, err = s.db.Prepare(stmtUpdateStatus); err != nil {
		return xerrors.Errorf("prepare update statement: %w", err)
	}
	if s.hasStmt, err = s.db.Prepare(stmtHasPiece); err != nil {
		return xerrors.Errorf("prepare has statement: %w", err)
	}
	return nil
}

// InsertIfAbsent writes rec with status as given unless a record already
// exists for rec.Piece. An existing identical record is a no-op; an existing
// record disagreeing on content or group is a *piece.ConflictError.
func (s *SqliteStore) InsertIfAbsent(ctx context.Context, rec piece.Record) (piece.InsertResult, error) {
	now := s.clock.Now().UTC()

	res, err := s.insertStmt.ExecContext(ctx,
		rec.Piece.String(), rec.Content.String(), rec.Group, int(rec.Status), rec.Cause, now, now)
	if err != nil {
		return piece.InsertResult{}, xerrors.Errorf("inserting piece %s: %w", rec.Piece, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return piece.InsertResult{}, xerrors.Errorf("inserting piece %s: %w", rec.Piece, err)
	}

	if rows == 0 {
		// Row already present. Silently succeed only when it agrees with us.
		existing, err := s.Get(ctx, rec.Piece)
		if err != nil {
			return piece.InsertResult{}, xerrors.Errorf("reading back existing piece %s: %w", rec.Piece, err)
		}
		if !existing.Content.Equals(rec.Content) || existing.Group != rec.Group {
			return piece.InsertResult{}, &piece.ConflictError{
				Piece:           rec.Piece,
				ExistingContent: existing.Content,
				ExistingGroup:   existing.Group,
			}
		}
		return piece.InsertResult{Created: false}, nil
	}

	rec.InsertedAt = now
	rec.UpdatedAt = now
	s.publish(piece.ChangeEvent{
		ID:       uuid.NewString(),
		Kind:     piece.EventInsert,
		Record:   rec,
		Previous: rec.Status,
	})

	return piece.InsertResult{Created: true}, nil
}

// UpdateStatus moves the piece from exactly `from` to `to`. When the stored
// status no longer equals `from` the update is not applied and that is not an
// error; it is what makes redelivered resolutions harmless.
func (s *SqliteStore) UpdateStatus(ctx context.Context, p cid.Cid, from, to piece.Status, detail string) (piece.UpdateResult, error) {
	if !from.CanTransition(to) {
		return piece.UpdateResult{}, xerrors.Errorf("invalid status transition %s -> %s for piece %s", from, to, p)
	}

	now := s.clock.Now().UTC()

	res, err := s.updateStmt.ExecContext(ctx, int(to), detail, now, p.String(), int(from))
	if err != nil {
		return piece.UpdateResult{}, xerrors.Errorf("updating piece %s status: %w", p, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return piece.UpdateResult{}, xerrors.Errorf("updating piece %s status: %w", p, err)
	}

	if rows == 0 {
		var exists bool
		if err := s.hasStmt.QueryRowContext(ctx, p.String()).Scan(&exists); err != nil {
			return piece.UpdateResult{}, xerrors.Errorf("checking piece %s existence: %w", p, err)
		}
		if !exists {
			return piece.UpdateResult{}, xerrors.Errorf("updating piece %s: %w", p, piece.ErrNotFound)
		}
		// Already transitioned by someone else; lost the race harmlessly.
		return piece.UpdateResult{Applied: false}, nil
	}

	rec, err := s.Get(ctx, p)
	if err != nil {
		return piece.UpdateResult{}, xerrors.Errorf("reading back updated piece %s: %w", p, err)
	}

	s.publish(piece.ChangeEvent{
		ID:       uuid.NewString(),
		Kind:     piece.EventUpdate,
		Record:   rec,
		Previous: from,
	})

	return piece.UpdateResult{Applied: true}, nil
}

func (s *SqliteStore) Get(ctx context.Context, p cid.Cid) (piece.Record, error) {
	row := s.getStmt.QueryRowContext(ctx, p.String())

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return piece.Record{}, piece.ErrNotFound
	}
	if err != nil {
		return piece.Record{}, xerrors.Errorf("getting piece %s: %w", p, err)
	}
	return rec, nil
}

// Scan returns one page of records matching filter, ordered by piece key so a
// cursor survives concurrent mutation. No snapshot isolation is promised.
func (s *SqliteStore) Scan(ctx context.Context, filter piece.ScanFilter) (*piece.ScanPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultScanLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT piece, content, group_id, stat, cause, detail, inserted_at, updated_at FROM piece WHERE piece > ?`)
	args := []interface{}{filter.Cursor}

	if len(filter.Statuses) > 0 {
		sb.WriteString(" AND stat IN (?" + strings.Repeat(",?", len(filter.Statuses)-1) + ")")
		for _, st := range filter.Statuses {
			args = append(args, int(st))
		}
	}
	if !filter.InsertedBefore.IsZero() {
		sb.WriteString(" AND inserted_at <= ?")
		args = append(args, filter.InsertedBefore.UTC())
	}
	sb.WriteString(" ORDER BY piece LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, xerrors.Errorf("scanning pieces: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	page := &piece.ScanPage{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Errorf("scanning piece row: %w", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("scanning pieces: %w", err)
	}

	if len(page.Records) == limit {
		page.NextCursor = page.Records[len(page.Records)-1].Piece.String()
	}

	return page, nil
}

// SubscribeChanges registers a change event subscriber. Events are delivered
// best effort: a subscriber that cannot keep up has events dropped with a
// warning, and the deal tracker converges the record anyway.
func (s *SqliteStore) SubscribeChanges() (<-chan piece.ChangeEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.subIdCounter
	s.subIdCounter++

	ch := make(chan piece.ChangeEvent, 64)
	s.changeSubs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.changeSubs[id]; ok {
			close(sub)
			delete(s.changeSubs, id)
		}
	}
}

func (s *SqliteStore) publish(ev piece.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.changeSubs {
		select {
		case ch <- ev:
		default:
			log.Warnw("dropping change event for slow subscriber", "sub", id, "piece", ev.Record.Piece, "kind", ev.Kind.String())
		}
	}
}

func (s *SqliteStore) Close() error {
	s.closeLk.Lock()
	defer s.closeLk.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.mu.Lock()
	for id, ch := range s.changeSubs {
		close(ch)
		delete(s.changeSubs, id)
	}
	s.mu.Unlock()

	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (piece.Record, error) {
	var (
		rec              piece.Record
		pieceStr, cntStr string
		stat             int
	)
	if err := row.Scan(&pieceStr, &cntStr, &rec.Group, &stat, &rec.Cause, &rec.Detail, &rec.InsertedAt, &rec.UpdatedAt); err != nil {
		return piece.Record{}, err
	}

	var err error
	if rec.Piece, err = cid.Parse(pieceStr); err != nil {
		return piece.Record{}, xerrors.Errorf("parsing stored piece cid %q: %w", pieceStr, err)
	}
	if rec.Content, err = cid.Parse(cntStr); err != nil {
		return piece.Record{}, xerrors.Errorf("parsing stored content cid %q: %w", cntStr, err)
	}
	rec.Status = piece.Status(stat)

	return rec, nil
}
