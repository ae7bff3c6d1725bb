package piecestore

const DefaultDbFilename = "pieces.db"

const (
	stmtInsertPiece = `INSERT INTO piece (piece, content, group_id, stat, cause, detail, inserted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?) ON CONFLICT (piece) DO NOTHING`

	stmtGetPiece = `SELECT piece, content, group_id, stat, cause, detail, inserted_at, updated_at
		FROM piece WHERE piece = ?`

	stmtUpdateStatus = `UPDATE piece SET stat = ?, detail = ?, updated_at = ?
		WHERE piece = ? AND stat = ?`

	stmtHasPiece = `SELECT EXISTS(SELECT 1 FROM piece WHERE piece = ?)`
)

var ddls = []string{
	`CREATE TABLE IF NOT EXISTS piece (
		piece TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		group_id TEXT NOT NULL,
		stat INTEGER NOT NULL,
		cause TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		inserted_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS piece_stat_index ON piece (stat, inserted_at)`,
}
