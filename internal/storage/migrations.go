package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// CurrentSchemaVersion is the version the last entry of AllMigrations
// produces.
const CurrentSchemaVersion = "1.1.0"

// Migration is one forward step of the schema and its inverse.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations lists the migrations in ascending version order.
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- One row per indexed content unit. id is deliberately not unique: appends
-- may repeat an id and the dedupe pass removes the extras by rowid.
CREATE TABLE IF NOT EXISTS documents (
    rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    file_path TEXT NOT NULL,
    filename TEXT NOT NULL,
    file_type TEXT NOT NULL,
    file_size_bytes INTEGER NOT NULL DEFAULT 0,
    creation_date REAL,
    last_modified REAL,
    page_number INTEGER NOT NULL DEFAULT 1,
    content TEXT NOT NULL DEFAULT '',
    vector BLOB,
    embedded INTEGER NOT NULL DEFAULT 0,
    summary TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'Unsorted'
);

CREATE INDEX IF NOT EXISTS idx_documents_id ON documents(id);
CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(file_path);
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_documents_embedded ON documents(embedded);

-- Index settings fixed on first use
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS meta;
DROP TABLE IF EXISTS documents;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
-- History of sync cycles
CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    files_indexed INTEGER NOT NULL DEFAULT 0,
    files_deleted INTEGER NOT NULL DEFAULT 0,
    files_skipped INTEGER NOT NULL DEFAULT 0,
    files_failed INTEGER NOT NULL DEFAULT 0,
    chunks_written INTEGER NOT NULL DEFAULT 0,
    duplicates_removed INTEGER NOT NULL DEFAULT 0,
    batches_failed INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);

-- Files that were processed but produced no record
CREATE TABLE IF NOT EXISTS skipped_files (
    file_path TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    reason TEXT NOT NULL,
    last_modified REAL NOT NULL
);
`

const migrationV11Down = `
DROP TABLE IF EXISTS skipped_files;
DROP TABLE IF EXISTS sync_runs;
`

// ErrSchemaTooNew is returned when the database was migrated by a newer
// build than this one.
var ErrSchemaTooNew = errors.New("index schema is newer than this build")

// ApplyMigrations brings db up to CurrentSchemaVersion. Each migration runs in
// its own transaction together with its schema_version row.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if latest := semver.MustParse(CurrentSchemaVersion); current.GreaterThan(latest) {
		return fmt.Errorf("%w: database at %s, build supports %s", ErrSchemaTooNew, current, latest)
	}

	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		err = inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		current = v
	}
	return nil
}

// RollbackMigration reverts the highest applied migration.
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(AllMigrations, func(m Migration) bool {
		v, err := semver.NewVersion(m.Version)
		return err == nil && v.Equal(current)
	})
	if idx < 0 {
		return fmt.Errorf("no migration to roll back from %s", current)
	}
	m := AllMigrations[idx]

	err = inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return err
		}
		// The 1.0.0 down migration drops schema_version itself.
		if idx == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %s: %w", m.Version, err)
	}
	return nil
}

// schemaVersion returns the highest recorded version, or 0.0.0 for a fresh
// database. Versions are compared as semver, not as strings.
func schemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	current := semver.MustParse("0.0.0")

	var name string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid recorded schema version %q: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
