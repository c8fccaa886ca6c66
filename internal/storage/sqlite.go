package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ankur0405/personal-documents-handler/internal/changes"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrSchemaMismatch is returned when the configured model, dimension or
	// metric differs from the one the store was built with
	ErrSchemaMismatch = errors.New("index settings mismatch")
)

// maxRowIDsPerStatement bounds the IN list of row id deletes.
const maxRowIDsPerStatement = 500

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStorage implements the Store interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
	// writes counts commits made through this handle; data_version only
	// moves for commits made by other connections.
	writes atomic.Uint64
}

var _ Store = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn in a transaction and commits when it returns nil.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.writes.Add(1)
	return nil
}

// Record operations

const recordColumns = `id, content_hash, file_path, filename, file_type, file_size_bytes,
	creation_date, last_modified, page_number, content, vector, embedded, summary, category`

func recordArgs(r *types.FileRecord) []interface{} {
	var vector interface{}
	if len(r.Vector) > 0 {
		vector = serializeVector(r.Vector)
	}
	embedded := 0
	if r.Embedded() {
		embedded = 1
	}
	category := r.Category
	if category == "" {
		category = types.DefaultCategory
	}
	return []interface{}{
		r.ID, r.ContentHash, r.FilePath, r.Filename, r.FileType, r.FileSizeBytes,
		r.CreationDate, r.LastModified, r.PageNumber, r.Content, vector, embedded, r.Summary, category,
	}
}

// insertRecordWithQuerier appends one row without looking at existing ids
func (s *SQLiteStorage) insertRecordWithQuerier(ctx context.Context, q querier, r *types.FileRecord) error {
	query := `INSERT INTO documents (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := q.ExecContext(ctx, query, recordArgs(r)...); err != nil {
		return fmt.Errorf("failed to insert record %s: %w", r.ID, err)
	}
	return nil
}

// upsertRecordWithQuerier overwrites every row carrying r.ID, or inserts
// one when there is none
func (s *SQLiteStorage) upsertRecordWithQuerier(ctx context.Context, q querier, r *types.FileRecord) error {
	query := `
		UPDATE documents
		SET content_hash = ?, file_path = ?, filename = ?, file_type = ?, file_size_bytes = ?,
		    creation_date = ?, last_modified = ?, page_number = ?, content = ?, vector = ?,
		    embedded = ?, summary = ?, category = ?
		WHERE id = ?
	`
	args := recordArgs(r)
	result, err := q.ExecContext(ctx, query, append(args[1:], r.ID)...)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", r.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.insertRecordWithQuerier(ctx, q, r)
}

// UpsertRecords merges records on id in a single transaction: either every
// record is written or none is.
func (s *SQLiteStorage) UpsertRecords(ctx context.Context, records []types.FileRecord) (int, error) {
	if err := validateRecords(records); err != nil {
		return 0, err
	}
	err := s.withTx(ctx, func(q querier) error {
		for i := range records {
			if err := s.upsertRecordWithQuerier(ctx, q, &records[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// AppendRecords inserts records without checking ids, in one transaction.
func (s *SQLiteStorage) AppendRecords(ctx context.Context, records []types.FileRecord) (int, error) {
	if err := validateRecords(records); err != nil {
		return 0, err
	}
	err := s.withTx(ctx, func(q querier) error {
		for i := range records {
			if err := s.insertRecordWithQuerier(ctx, q, &records[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func validateRecords(records []types.FileRecord) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("record %d (%s): %w", i, records[i].ID, err)
		}
	}
	return nil
}

// DeleteByPaths removes every row of the given paths, at most batch paths
// per statement.
func (s *SQLiteStorage) DeleteByPaths(ctx context.Context, paths []string, batch int) (int, error) {
	if batch <= 0 {
		batch = len(paths)
	}
	total := 0
	defer s.writes.Add(1)
	for start := 0; start < len(paths); start += batch {
		end := min(start+batch, len(paths))
		chunk := paths[start:end]

		query := "DELETE FROM documents WHERE file_path IN (" + placeholders(len(chunk)) + ")"
		result, err := s.db.ExecContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return total, fmt.Errorf("failed to delete paths: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// DeleteRows removes rows by rowid. Deleting by rowid removes exactly the
// duplicates chosen, even when they share an id with the surviving row.
func (s *SQLiteStorage) DeleteRows(ctx context.Context, rowIDs []int64) (int, error) {
	total := 0
	err := s.withTx(ctx, func(q querier) error {
		for start := 0; start < len(rowIDs); start += maxRowIDsPerStatement {
			end := min(start+maxRowIDsPerStatement, len(rowIDs))
			chunk := rowIDs[start:end]

			args := make([]interface{}, len(chunk))
			for i, id := range chunk {
				args[i] = id
			}
			query := "DELETE FROM documents WHERE rowid IN (" + placeholders(len(chunk)) + ")"
			result, err := q.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("failed to delete rows: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ClearAll removes every record in one statement.
func (s *SQLiteStorage) ClearAll(ctx context.Context) (int, error) {
	defer s.writes.Add(1)
	result, err := s.db.ExecContext(ctx, "DELETE FROM documents")
	if err != nil {
		return 0, fmt.Errorf("failed to clear documents: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// ScanRows streams the change-detection view of every row in insertion
// order. fn must not call back into the store.
func (s *SQLiteStorage) ScanRows(ctx context.Context, fn func(changes.Row) error) error {
	query := `
		SELECT rowid, id, content_hash, file_path, last_modified,
		       CASE WHEN vector IS NULL THEN -1 ELSE length(vector) / 4 END,
		       embedded
		FROM documents
		ORDER BY rowid
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to scan documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			r            changes.Row
			lastModified sql.NullFloat64
			embedded     int
		)
		if err := rows.Scan(&r.RowID, &r.ID, &r.ContentHash, &r.FilePath, &lastModified, &r.VectorLen, &embedded); err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}
		r.HasVectorColumn = true
		if lastModified.Valid {
			v := lastModified.Float64
			r.LastModified = &v
		}
		r.VectorZero = r.VectorLen >= 0 && embedded == 0
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ContentHashes maps every indexed content hash to one path holding it.
func (s *SQLiteStorage) ContentHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT content_hash, MIN(file_path) FROM documents GROUP BY content_hash")
	if err != nil {
		return nil, fmt.Errorf("failed to list content hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hashes := make(map[string]string)
	for rows.Next() {
		var hash, path string
		if err := rows.Scan(&hash, &path); err != nil {
			return nil, err
		}
		hashes[hash] = path
	}
	return hashes, rows.Err()
}

// RecordsByPath returns the rows of one file ordered by page and id.
func (s *SQLiteStorage) RecordsByPath(ctx context.Context, path string) ([]types.FileRecord, error) {
	query := `
		SELECT rowid, ` + recordColumns + `
		FROM documents
		WHERE file_path = ?
		ORDER BY page_number, rowid
	`
	rows, err := s.db.QueryContext(ctx, query, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.FileRecord
	for rows.Next() {
		r, _, err := scanRecord(rows, true)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads "rowid, recordColumns". When withVector is false the
// vector column is discarded.
func scanRecord(sc scanner, withVector bool) (types.FileRecord, int64, error) {
	var (
		r            types.FileRecord
		rowID        int64
		creation     sql.NullFloat64
		lastModified sql.NullFloat64
		blob         []byte
		embedded     int
	)
	err := sc.Scan(&rowID, &r.ID, &r.ContentHash, &r.FilePath, &r.Filename, &r.FileType, &r.FileSizeBytes,
		&creation, &lastModified, &r.PageNumber, &r.Content, &blob, &embedded, &r.Summary, &r.Category)
	if err != nil {
		return r, 0, fmt.Errorf("failed to read record: %w", err)
	}
	r.CreationDate = creation.Float64
	r.LastModified = lastModified.Float64
	if withVector && blob != nil {
		r.Vector = deserializeVector(blob)
	}
	return r, rowID, nil
}

// Search operations

// Search returns up to limit embedded records nearest to vector under metric.
func (s *SQLiteStorage) Search(ctx context.Context, vector []float32, metric types.Metric, limit int) ([]VectorHit, error) {
	return searchVector(ctx, s.db, vector, metric, limit)
}

// Skipped file operations

// ListSkips returns every remembered skip.
func (s *SQLiteStorage) ListSkips(ctx context.Context) ([]changes.Skip, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file_path, content_hash, reason, last_modified FROM skipped_files ORDER BY file_path")
	if err != nil {
		return nil, fmt.Errorf("failed to list skipped files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var skips []changes.Skip
	for rows.Next() {
		var sk changes.Skip
		if err := rows.Scan(&sk.Path, &sk.ContentHash, &sk.Reason, &sk.ModTime); err != nil {
			return nil, err
		}
		skips = append(skips, sk)
	}
	return skips, rows.Err()
}

// PutSkip remembers or replaces the skip entry of one path.
func (s *SQLiteStorage) PutSkip(ctx context.Context, skip changes.Skip) error {
	query := `
		INSERT INTO skipped_files (file_path, content_hash, reason, last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			reason = excluded.reason,
			last_modified = excluded.last_modified
	`
	if _, err := s.db.ExecContext(ctx, query, skip.Path, skip.ContentHash, skip.Reason, skip.ModTime); err != nil {
		return fmt.Errorf("failed to record skipped file: %w", err)
	}
	return nil
}

// DeleteSkips forgets the skip entries of paths.
func (s *SQLiteStorage) DeleteSkips(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	total := 0
	for start := 0; start < len(paths); start += maxRowIDsPerStatement {
		end := min(start+maxRowIDsPerStatement, len(paths))
		chunk := paths[start:end]
		query := "DELETE FROM skipped_files WHERE file_path IN (" + placeholders(len(chunk)) + ")"
		result, err := s.db.ExecContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return total, fmt.Errorf("failed to delete skipped files: %w", err)
		}
		n, _ := result.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// Settings operations

// Meta returns a stored setting, or ErrNotFound.
func (s *SQLiteStorage) Meta(ctx context.Context, key string) (string, error) {
	return s.metaWithQuerier(ctx, s.db, key)
}

func (s *SQLiteStorage) metaWithQuerier(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMeta stores a setting.
func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	return s.setMetaWithQuerier(ctx, s.db, key, value)
}

func (s *SQLiteStorage) setMetaWithQuerier(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, "INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// EnsureIndexSettings records settings on first use and afterwards rejects
// any difference with ErrSchemaMismatch.
func (s *SQLiteStorage) EnsureIndexSettings(ctx context.Context, settings IndexSettings) error {
	return s.withTx(ctx, func(q querier) error {
		return s.compareSettings(ctx, q, settings, true)
	})
}

// CheckIndexSettings is the read-only form of EnsureIndexSettings: a store
// that has no settings yet accepts anything and records nothing.
func (s *SQLiteStorage) CheckIndexSettings(ctx context.Context, settings IndexSettings) error {
	return s.compareSettings(ctx, s.db, settings, false)
}

func (s *SQLiteStorage) compareSettings(ctx context.Context, q querier, settings IndexSettings, record bool) error {
	want := map[string]string{
		MetaEmbeddingModel:     settings.Model,
		MetaEmbeddingDimension: strconv.Itoa(settings.Dimension),
		MetaMetric:             settings.Metric.String(),
	}
	var mismatches []string
	for _, key := range []string{MetaEmbeddingModel, MetaEmbeddingDimension, MetaMetric} {
		have, err := s.metaWithQuerier(ctx, q, key)
		if errors.Is(err, ErrNotFound) {
			if !record {
				continue
			}
			if err := s.setMetaWithQuerier(ctx, q, key, want[key]); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if have != want[key] {
			mismatches = append(mismatches, fmt.Sprintf("%s: store has %q, configured %q", key, have, want[key]))
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%w: %s (run reset to rebuild the index)", ErrSchemaMismatch, strings.Join(mismatches, "; "))
	}
	return nil
}

// Generation changes whenever the index contents may have changed, whether
// through this handle or through another connection or process.
func (s *SQLiteStorage) Generation(ctx context.Context) (Generation, error) {
	g := Generation{Writes: s.writes.Load()}
	if err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&g.DataVersion); err != nil {
		return Generation{}, fmt.Errorf("read data_version: %w", err)
	}
	return g, nil
}

// IndexSettings returns the recorded settings, or ErrNotFound before the
// first sync.
func (s *SQLiteStorage) IndexSettings(ctx context.Context) (*IndexSettings, error) {
	model, err := s.Meta(ctx, MetaEmbeddingModel)
	if err != nil {
		return nil, err
	}
	dimStr, err := s.Meta(ctx, MetaEmbeddingDimension)
	if err != nil {
		return nil, err
	}
	dim, err := strconv.Atoi(dimStr)
	if err != nil {
		return nil, fmt.Errorf("invalid stored dimension %q: %w", dimStr, err)
	}
	metricStr, err := s.Meta(ctx, MetaMetric)
	if err != nil {
		return nil, err
	}
	metric, err := types.ParseMetric(metricStr)
	if err != nil {
		return nil, err
	}
	return &IndexSettings{Model: model, Dimension: dim, Metric: metric}, nil
}

// Run history

// RecordSyncRun inserts or updates the history entry of run.
func (s *SQLiteStorage) RecordSyncRun(ctx context.Context, run *SyncRun) error {
	query := `
		INSERT OR REPLACE INTO sync_runs (
			id, root, status, started_at, finished_at, files_indexed, files_deleted,
			files_skipped, files_failed, chunks_written, duplicates_removed, batches_failed, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var finished interface{}
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Root, run.Status, run.StartedAt.UTC().Format(timeLayout), finished,
		run.FilesIndexed, run.FilesDeleted, run.FilesSkipped, run.FilesFailed,
		run.ChunksWritten, run.DuplicatesRemoved, run.BatchesFailed, run.Error)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// LastSyncRun returns the most recently started run, or ErrNotFound.
func (s *SQLiteStorage) LastSyncRun(ctx context.Context) (*SyncRun, error) {
	query := `
		SELECT id, root, status, started_at, finished_at, files_indexed, files_deleted,
		       files_skipped, files_failed, chunks_written, duplicates_removed, batches_failed, error
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT 1
	`
	var (
		run      SyncRun
		started  string
		finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&run.ID, &run.Root, &run.Status, &started, &finished, &run.FilesIndexed, &run.FilesDeleted,
		&run.FilesSkipped, &run.FilesFailed, &run.ChunksWritten, &run.DuplicatesRemoved, &run.BatchesFailed, &run.Error)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", started, err)
	}
	if finished.Valid {
		if run.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return nil, fmt.Errorf("invalid finished_at %q: %w", finished.String, err)
		}
	}
	return &run, nil
}

// Status operations

func (s *SQLiteStorage) Status(ctx context.Context) (*Status, error) {
	status := &Status{BuildMode: BuildMode}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT file_path), COALESCE(SUM(embedded), 0)
		FROM documents
	`).Scan(&status.Records, &status.Files, &status.Embedded)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	status.Pending = status.Records - status.Embedded

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM skipped_files").Scan(&status.SkippedFiles); err != nil {
		return nil, fmt.Errorf("failed to count skipped files: %w", err)
	}

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	settings, err := s.IndexSettings(ctx)
	switch {
	case err == nil:
		status.Settings = settings
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	run, err := s.LastSyncRun(ctx)
	switch {
	case err == nil:
		status.LastRun = run
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return status, nil
}

// Reset removes every record, skip entry, run and setting, so the next sync
// rebuilds the index from scratch under the current configuration.
func (s *SQLiteStorage) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(q querier) error {
		for _, table := range []string{"documents", "skipped_files", "sync_runs", "meta"} {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
