// Package sqlite provides common utilities for opening and managing sqlite
// databases used by storefront components.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"
)

var log = logging.Logger("sqlite")

var pragmas = []string{
	"PRAGMA synchronous = normal",
	"PRAGMA temp_store = memory",
	"PRAGMA mmap_size = 30000000000",
	"PRAGMA page_size = 32768",
	"PRAGMA auto_vacuum = NONE",
	"PRAGMA automatic_index = OFF",
	"PRAGMA journal_mode = WAL",
	"PRAGMA wal_autocheckpoint = 256",
	"PRAGMA journal_size_limit = 0",
	"PRAGMA foreign_keys = ON",
	"PRAGMA read_uncommitted = ON",
}

const metaDdl = `CREATE TABLE IF NOT EXISTS _meta (
	version UINT64 NOT NULL UNIQUE
)`

// MigrationFunc performs a database migration from one schema version to the
// next, run inside the transaction that bumps the version.
type MigrationFunc func(ctx context.Context, tx *sql.Tx) error

// Open opens (or creates) a sqlite database at the given path. The second
// return value reports whether the database already existed.
func Open(path string) (*sql.DB, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, xerrors.Errorf("error creating database base directory [@ %s]: %w", filepath.Dir(path), err)
	}

	_, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, false, xerrors.Errorf("error checking file status for database [@ %s]: %w", path, err)
	}
	exists := err == nil

	db, err := sql.Open("sqlite3", path+"?mode=rwc")
	if err != nil {
		return nil, false, xerrors.Errorf("error opening database [@ %s]: %w", path, err)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, false, xerrors.Errorf("error setting database pragma %q: %w", pragma, err)
		}
	}

	return db, exists, nil
}

// InitDb initialises the database by applying the given DDL statements and
// then running any migrations required to bring the schema up to the current
// version. The schema version is tracked in a _meta table.
func InitDb(ctx context.Context, name string, db *sql.DB, ddls []string, versionMigrations []MigrationFunc) error {
	if _, err := db.ExecContext(ctx, metaDdl); err != nil {
		return xerrors.Errorf("error creating %s _meta table: %w", name, err)
	}

	for _, ddl := range ddls {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return xerrors.Errorf("error executing %s ddl %q: %w", name, ddl, err)
		}
	}

	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT max(version) FROM _meta").Scan(&version); err != nil {
		return xerrors.Errorf("error checking %s schema version: %w", name, err)
	}
	foundVersion := int(version.Int64)
	if foundVersion == 0 {
		if _, err := db.ExecContext(ctx, "INSERT OR IGNORE INTO _meta (version) VALUES (1)"); err != nil {
			return xerrors.Errorf("error setting %s schema version: %w", name, err)
		}
		foundVersion = 1
	}

	latestVersion := len(versionMigrations) + 1
	if foundVersion > latestVersion {
		return xerrors.Errorf("database %s is at schema version %d, newer than this binary understands (%d)", name, foundVersion, latestVersion)
	}

	for v := foundVersion; v < latestVersion; v++ {
		log.Infof("migrating %s database from version %d to %d", name, v, v+1)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return xerrors.Errorf("error starting %s migration transaction: %w", name, err)
		}
		if err := versionMigrations[v-1](ctx, tx); err != nil {
			_ = tx.Rollback()
			return xerrors.Errorf("error running %s migration to version %d: %w", name, v+1, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO _meta (version) VALUES (?)", v+1); err != nil {
			_ = tx.Rollback()
			return xerrors.Errorf("error bumping %s schema version: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return xerrors.Errorf("error committing %s migration: %w", name, err)
		}
	}

	return nil
}
