package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankur0405/personal-documents-handler/internal/changes"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

func chunkRecord(hash, path string, page, offset int, vector []float32) types.FileRecord {
	return types.FileRecord{
		ID:            types.ChunkID(hash, page, offset),
		ContentHash:   hash,
		FilePath:      path,
		Filename:      filepath.Base(path),
		FileType:      "pdf",
		FileSizeBytes: 2048,
		CreationDate:  50,
		LastModified:  200,
		PageNumber:    page,
		Content:       "chunk text",
		Vector:        vector,
		Category:      types.DefaultCategory,
	}
}

func scanAll(t *testing.T, s *SQLiteStorage) []changes.Row {
	t.Helper()
	var rows []changes.Row
	require.NoError(t, s.ScanRows(context.Background(), func(r changes.Row) error {
		rows = append(rows, r)
		return nil
	}))
	return rows
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage.db)

	var version string
	err := storage.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestNewSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	_, err = s.UpsertRecords(context.Background(), []types.FileRecord{chunkRecord("h1", "/d/a.pdf", 1, 0, []float32{1, 2})})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Migrations are not re-applied and data survives.
	s, err = NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Len(t, scanAll(t, s), 1)
}

func TestUpsertRecords(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	first := chunkRecord("h1", "/d/a.pdf", 1, 0, []float32{1, 2})
	n, err := s.UpsertRecords(ctx, []types.FileRecord{first})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same id again: overwritten, not duplicated.
	updated := first
	updated.Content = "new text"
	updated.LastModified = 300
	_, err = s.UpsertRecords(ctx, []types.FileRecord{updated, chunkRecord("h1", "/d/a.pdf", 1, 800, []float32{3, 4})})
	require.NoError(t, err)

	records, err := s.RecordsByPath(ctx, "/d/a.pdf")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new text", records[0].Content)
	assert.Equal(t, 300.0, records[0].LastModified)
	assert.Equal(t, []float32{1, 2}, records[0].Vector)
	assert.Equal(t, "a.pdf", records[0].Filename)
	assert.Equal(t, int64(2048), records[0].FileSizeBytes)
	assert.Equal(t, types.DefaultCategory, records[0].Category)
}

func TestUpsertRecords_AllOrNothing(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	bad := chunkRecord("h2", "/d/b.pdf", 1, 0, nil)
	bad.ID = ""
	_, err := s.UpsertRecords(context.Background(), []types.FileRecord{chunkRecord("h1", "/d/a.pdf", 1, 0, nil), bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEmptyRecordID)
	assert.Empty(t, scanAll(t, s))
}

func TestAppendRecords_AllowsRepeatedIDs(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	r := chunkRecord("h1", "/d/a.pdf", 1, 0, []float32{1, 2})

	_, err := s.AppendRecords(context.Background(), []types.FileRecord{r, r})
	require.NoError(t, err)

	rows := scanAll(t, s)
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0].ID, rows[1].ID)
	assert.Less(t, rows[0].RowID, rows[1].RowID)
}

func TestScanRows(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	skeleton := types.FileMeta{Path: "/d/new.txt", ContentHash: "h3", ModTime: 10}.Skeleton(2)
	_, err := s.UpsertRecords(ctx, []types.FileRecord{
		chunkRecord("h1", "/d/a.pdf", 1, 0, []float32{1, 2}),
		chunkRecord("h2", "/d/b.pdf", 1, 0, nil),
		skeleton,
	})
	require.NoError(t, err)

	rows := scanAll(t, s)
	require.Len(t, rows, 3)

	assert.Equal(t, "/d/a.pdf", rows[0].FilePath)
	assert.Equal(t, 2, rows[0].VectorLen)
	assert.False(t, rows[0].VectorZero)
	assert.True(t, rows[0].HasVectorColumn)
	require.NotNil(t, rows[0].LastModified)
	assert.Equal(t, 200.0, *rows[0].LastModified)

	assert.Equal(t, -1, rows[1].VectorLen)
	assert.False(t, rows[1].VectorZero)

	assert.Equal(t, "h3", rows[2].ID)
	assert.Equal(t, 2, rows[2].VectorLen)
	assert.True(t, rows[2].VectorZero)
}

func TestDeleteByPaths(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	var records []types.FileRecord
	for _, p := range []string{"/d/a.pdf", "/d/b.pdf", "/d/c.pdf", "/d/d.pdf", "/d/e.pdf"} {
		records = append(records,
			chunkRecord("h"+p, p, 1, 0, []float32{1}),
			chunkRecord("h"+p, p, 2, 0, []float32{1}))
	}
	_, err := s.UpsertRecords(ctx, records)
	require.NoError(t, err)

	n, err := s.DeleteByPaths(ctx, []string{"/d/a.pdf", "/d/c.pdf", "/d/e.pdf", "/d/missing.pdf"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	var left []string
	for _, r := range scanAll(t, s) {
		left = append(left, r.FilePath)
	}
	assert.Equal(t, []string{"/d/b.pdf", "/d/b.pdf", "/d/d.pdf", "/d/d.pdf"}, left)

	n, err = s.DeleteByPaths(ctx, nil, 50)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteRows(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	r := chunkRecord("h1", "/d/a.pdf", 1, 0, []float32{1})

	_, err := s.AppendRecords(ctx, []types.FileRecord{r, r, r})
	require.NoError(t, err)
	rows := scanAll(t, s)

	n, err := s.DeleteRows(ctx, []int64{rows[1].RowID, rows[2].RowID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left := scanAll(t, s)
	require.Len(t, left, 1)
	assert.Equal(t, rows[0].RowID, left[0].RowID)
}

func TestClearAll(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, []types.FileRecord{
		chunkRecord("h1", "/d/a.pdf", 1, 0, nil),
		chunkRecord("h2", "/d/b.pdf", 1, 0, nil),
	})
	require.NoError(t, err)

	n, err := s.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, scanAll(t, s))
}

func TestContentHashes(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, []types.FileRecord{
		chunkRecord("h1", "/d/b.pdf", 1, 0, nil),
		chunkRecord("h1", "/d/b.pdf", 2, 0, nil),
		chunkRecord("h2", "/d/c.pdf", 1, 0, nil),
	})
	require.NoError(t, err)

	hashes, err := s.ContentHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"h1": "/d/b.pdf", "h2": "/d/c.pdf"}, hashes)
}

func TestSearch(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.UpsertRecords(ctx, []types.FileRecord{
		chunkRecord("h1", "/d/a.pdf", 1, 0, []float32{1, 0}),
		chunkRecord("h2", "/d/b.pdf", 3, 0, []float32{0, 1}),
		chunkRecord("h3", "/d/pending.pdf", 1, 0, []float32{0, 0}),
	})
	require.NoError(t, err)

	hits, err := s.Search(ctx, []float32{0.9, 0.1}, types.MetricL2, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "/d/a.pdf", hits[0].Record.FilePath)
	assert.Equal(t, "/d/b.pdf", hits[1].Record.FilePath)
	assert.Equal(t, 3, hits[1].Record.PageNumber)
	assert.Less(t, hits[0].Distance, hits[1].Distance)

	hits, err = s.Search(ctx, []float32{0, 2}, types.MetricCosine, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/d/b.pdf", hits[0].Record.FilePath)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
}

func TestSkips(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutSkip(ctx, changes.Skip{Path: "/d/blank.txt", ContentHash: "h1", Reason: changes.SkipEmpty, ModTime: 10}))
	require.NoError(t, s.PutSkip(ctx, changes.Skip{Path: "/d/copy.txt", ContentHash: "h2", Reason: changes.SkipDuplicate, ModTime: 20}))
	require.NoError(t, s.PutSkip(ctx, changes.Skip{Path: "/d/blank.txt", ContentHash: "h3", Reason: changes.SkipEmpty, ModTime: 30}))

	skips, err := s.ListSkips(ctx)
	require.NoError(t, err)
	assert.Equal(t, []changes.Skip{
		{Path: "/d/blank.txt", ContentHash: "h3", Reason: changes.SkipEmpty, ModTime: 30},
		{Path: "/d/copy.txt", ContentHash: "h2", Reason: changes.SkipDuplicate, ModTime: 20},
	}, skips)

	n, err := s.DeleteSkips(ctx, []string{"/d/copy.txt", "/d/none.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	skips, err = s.ListSkips(ctx)
	require.NoError(t, err)
	assert.Len(t, skips, 1)
}

func TestMeta(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.Meta(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetMeta(ctx, "k", "v1"))
	require.NoError(t, s.SetMeta(ctx, "k", "v2"))
	v, err := s.Meta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestEnsureIndexSettings(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	settings := IndexSettings{Model: "nomic-embed-text", Dimension: 768, Metric: types.MetricL2}

	_, err := s.IndexSettings(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.EnsureIndexSettings(ctx, settings))
	require.NoError(t, s.EnsureIndexSettings(ctx, settings))

	stored, err := s.IndexSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings, *stored)

	changed := settings
	changed.Dimension = 1024
	err = s.EnsureIndexSettings(ctx, changed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "embedding_dimension")

	changed = settings
	changed.Metric = types.MetricCosine
	assert.ErrorIs(t, s.EnsureIndexSettings(ctx, changed), ErrSchemaMismatch)

	// Reset forgets the settings so a new model can be adopted.
	require.NoError(t, s.Reset(ctx))
	require.NoError(t, s.EnsureIndexSettings(ctx, changed))
}

func TestCheckIndexSettings(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	settings := IndexSettings{Model: "nomic-embed-text", Dimension: 768, Metric: types.MetricL2}

	// Nothing pinned yet: accepted and not recorded.
	require.NoError(t, s.CheckIndexSettings(ctx, settings))
	_, err := s.IndexSettings(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.EnsureIndexSettings(ctx, settings))
	assert.NoError(t, s.CheckIndexSettings(ctx, settings))

	changed := settings
	changed.Model = "mxbai-embed-large"
	err = s.CheckIndexSettings(ctx, changed)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "embedding_model")
}

func TestGeneration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	g0, err := s.Generation(ctx)
	require.NoError(t, err)
	g1, err := s.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, g0, g1, "reads do not move the generation")

	_, err = s.UpsertRecords(ctx, []types.FileRecord{chunkRecord("h1", "/d/a.txt", 1, 0, []float32{1, 0})})
	require.NoError(t, err)
	g2, err := s.Generation(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, g1, g2)

	other, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer other.Close()
	_, err = other.DeleteByPaths(ctx, []string{"/d/a.txt"}, 0)
	require.NoError(t, err)

	g3, err := s.Generation(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, g2, g3, "commits by another connection are visible")
}

func TestSyncRuns(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.LastSyncRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := &SyncRun{ID: "run-1", Root: "/d", Status: RunCompleted, StartedAt: start, FinishedAt: start.Add(time.Minute)}
	require.NoError(t, s.RecordSyncRun(ctx, older))

	newer := &SyncRun{ID: "run-2", Root: "/d", Status: RunRunning, StartedAt: start.Add(time.Hour)}
	require.NoError(t, s.RecordSyncRun(ctx, newer))

	newer.Status = RunCompleted
	newer.FinishedAt = newer.StartedAt.Add(2 * time.Second)
	newer.FilesIndexed = 3
	newer.ChunksWritten = 12
	newer.BatchesFailed = 1
	require.NoError(t, s.RecordSyncRun(ctx, newer))

	last, err := s.LastSyncRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", last.ID)
	assert.Equal(t, RunCompleted, last.Status)
	assert.Equal(t, 3, last.FilesIndexed)
	assert.Equal(t, 12, last.ChunksWritten)
	assert.Equal(t, 1, last.BatchesFailed)
	assert.True(t, newer.StartedAt.Equal(last.StartedAt))
	assert.True(t, newer.FinishedAt.Equal(last.FinishedAt))
}

func TestStatus(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	status, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Records)
	assert.Nil(t, status.Settings)
	assert.Nil(t, status.LastRun)
	assert.Equal(t, BuildMode, status.BuildMode)

	_, err = s.UpsertRecords(ctx, []types.FileRecord{
		chunkRecord("h1", "/d/a.pdf", 1, 0, []float32{1, 0}),
		chunkRecord("h1", "/d/a.pdf", 2, 0, []float32{0, 1}),
		types.FileMeta{Path: "/d/b.txt", ContentHash: "h2"}.Skeleton(2),
	})
	require.NoError(t, err)
	require.NoError(t, s.PutSkip(ctx, changes.Skip{Path: "/d/c.txt", ContentHash: "h3", Reason: changes.SkipEmpty}))
	require.NoError(t, s.EnsureIndexSettings(ctx, IndexSettings{Model: "m", Dimension: 2, Metric: types.MetricL2}))
	require.NoError(t, s.RecordSyncRun(ctx, &SyncRun{ID: "r", Root: "/d", Status: RunCompleted, StartedAt: time.Now()}))

	status, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Records)
	assert.Equal(t, 2, status.Files)
	assert.Equal(t, 2, status.Embedded)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 1, status.SkippedFiles)
	require.NotNil(t, status.Settings)
	assert.Equal(t, 2, status.Settings.Dimension)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "r", status.LastRun.ID)
}

func TestRollbackMigration(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, s.db))

	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='skipped_files'").Scan(&name)
	assert.Error(t, err)

	// Re-applying restores the dropped tables.
	require.NoError(t, ApplyMigrations(ctx, s.db))
	require.NoError(t, s.PutSkip(ctx, changes.Skip{Path: "/d/x", ContentHash: "h", Reason: changes.SkipEmpty}))
}

func TestApplyMigrations_NewerSchema(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ('1.10.0')")
	require.NoError(t, err)

	v, err := schemaVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", v.String(), "versions compare numerically")

	assert.ErrorIs(t, ApplyMigrations(ctx, s.db), ErrSchemaTooNew)
}
