package changes

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 4

// fakeFS serves file states from a map; missing paths do not exist.
type fakeFS map[string]FileState

func (f fakeFS) Stat(path string) (FileState, error) {
	st, ok := f[path]
	if !ok {
		return FileState{}, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return st, nil
}

type errFS struct{ err error }

func (e errFS) Stat(path string) (FileState, error) {
	return FileState{}, &fs.PathError{Op: "stat", Path: path, Err: e.err}
}

func stamp(v float64) *float64 { return &v }

// row is an embedded, fresh row for path.
func row(rowID int64, id, hash, path string, lastModified float64) Row {
	return Row{
		RowID:           rowID,
		ID:              id,
		ContentHash:     hash,
		FilePath:        path,
		LastModified:    stamp(lastModified),
		HasVectorColumn: true,
		VectorLen:       dim,
	}
}

func (f fakeFS) disk() []FileState {
	out := make([]FileState, 0, len(f))
	for _, st := range f {
		out = append(out, st)
	}
	return out
}

func TestDetect_Unchanged(t *testing.T) {
	fsys := fakeFS{"/d/a.pdf": {Path: "/d/a.pdf", ModTime: 100}}
	rows := []Row{
		row(1, "h1_p1_0", "h1", "/d/a.pdf", 150),
		row(2, "h1_p1_800", "h1", "/d/a.pdf", 150),
	}

	plan := Detect(Input{Rows: rows, Disk: fsys.disk(), FS: fsys}, Options{Dimension: dim})
	assert.True(t, plan.Empty())
	assert.Equal(t, 1, plan.Unchanged)
	assert.False(t, plan.FullReindex)
	assert.Empty(t, plan.Tasks())
}

func TestDetect_Staleness(t *testing.T) {
	tests := []struct {
		name  string
		row   Row
		stale bool
	}{
		{"fresh", row(1, "h", "h", "/d/a.txt", 100), false},
		{"within tolerance", row(1, "h", "h", "/d/a.txt", 99.5), false},
		{"modified after embedding", row(1, "h", "h", "/d/a.txt", 98), true},
		{"absent timestamp", Row{RowID: 1, ID: "h", ContentHash: "h", FilePath: "/d/a.txt", HasVectorColumn: true, VectorLen: dim}, true},
		{"no vector column", Row{RowID: 1, ID: "h", ContentHash: "h", FilePath: "/d/a.txt", LastModified: stamp(200), VectorLen: dim}, true},
		{"null vector", Row{RowID: 1, ID: "h", ContentHash: "h", FilePath: "/d/a.txt", LastModified: stamp(200), HasVectorColumn: true, VectorLen: -1}, true},
		{"wrong dimension", Row{RowID: 1, ID: "h", ContentHash: "h", FilePath: "/d/a.txt", LastModified: stamp(200), HasVectorColumn: true, VectorLen: dim + 1}, true},
		{"zero vector", Row{RowID: 1, ID: "h", ContentHash: "h", FilePath: "/d/a.txt", LastModified: stamp(200), HasVectorColumn: true, VectorLen: dim, VectorZero: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fakeFS{"/d/a.txt": {Path: "/d/a.txt", ModTime: 100}}
			plan := Detect(Input{Rows: []Row{tt.row}, Disk: fsys.disk(), FS: fsys}, Options{Dimension: dim})
			if tt.stale {
				assert.Equal(t, []string{"/d/a.txt"}, plan.DeletePaths)
				require.Len(t, plan.Reindex, 1)
				assert.Equal(t, "/d/a.txt", plan.Reindex[0].Path)
				assert.Equal(t, 0, plan.Unchanged)
			} else {
				assert.Empty(t, plan.DeletePaths)
				assert.Empty(t, plan.Reindex)
				assert.Equal(t, 1, plan.Unchanged)
			}
			assert.Empty(t, plan.New)
		})
	}
}

func TestDetect_StaleChunkStalesWholeFile(t *testing.T) {
	fsys := fakeFS{
		"/d/a.pdf": {Path: "/d/a.pdf", ModTime: 100},
		"/d/b.pdf": {Path: "/d/b.pdf", ModTime: 100},
	}
	bad := row(2, "h1_p2_0", "h1", "/d/a.pdf", 150)
	bad.VectorZero = true
	rows := []Row{
		row(1, "h1_p1_0", "h1", "/d/a.pdf", 150),
		bad,
		row(3, "h2_p1_0", "h2", "/d/b.pdf", 150),
	}

	plan := Detect(Input{Rows: rows, Disk: fsys.disk(), FS: fsys}, Options{Dimension: dim})
	assert.Equal(t, []string{"/d/a.pdf"}, plan.DeletePaths)
	assert.Len(t, plan.Reindex, 1)
	assert.Equal(t, 1, plan.Unchanged)
	assert.False(t, plan.FullReindex)
}

func TestDetect_DeletedFile(t *testing.T) {
	fsys := fakeFS{"/d/keep.txt": {Path: "/d/keep.txt", ModTime: 100}}
	rows := []Row{
		row(1, "h1", "h1", "/d/keep.txt", 150),
		row(2, "h2", "h2", "/d/gone.txt", 150),
	}

	plan := Detect(Input{Rows: rows, Disk: fsys.disk(), FS: fsys}, Options{Dimension: dim})
	assert.Equal(t, []string{"/d/gone.txt"}, plan.DeletePaths)
	assert.Empty(t, plan.Reindex)
	assert.Equal(t, 1, plan.Unchanged)
	assert.False(t, plan.FullReindex)
}

func TestDetect_FullReindex(t *testing.T) {
	fsys := fakeFS{"/d/a.txt": {Path: "/d/a.txt", ModTime: 500}}
	rows := []Row{
		row(1, "h1_p1_0", "h1", "/d/a.txt", 100),
		row(2, "h1_p1_800", "h1", "/d/a.txt", 100),
		row(3, "h2", "h2", "/d/gone.txt", 100),
	}

	plan := Detect(Input{Rows: rows, Disk: fsys.disk(), FS: fsys}, Options{Dimension: dim})
	assert.True(t, plan.FullReindex)
	assert.Equal(t, []string{"/d/a.txt", "/d/gone.txt"}, plan.DeletePaths)
	assert.Len(t, plan.Reindex, 1)
}

func TestDetect_EmptyStore(t *testing.T) {
	fsys := fakeFS{
		"/d/a.txt": {Path: "/d/a.txt", ModTime: 1},
		"/d/b.txt": {Path: "/d/b.txt", ModTime: 1},
	}
	plan := Detect(Input{Disk: fsys.disk(), FS: fsys}, Options{Dimension: dim})
	assert.False(t, plan.FullReindex)
	assert.Len(t, plan.New, 2)
	assert.Len(t, plan.Tasks(), 2)
}

func TestDetect_DuplicateCollapse(t *testing.T) {
	fsys := fakeFS{"/d/a.txt": {Path: "/d/a.txt", ModTime: 100}}

	t.Run("repeated id keeps first row", func(t *testing.T) {
		rows := []Row{
			row(1, "h1", "h1", "/d/a.txt", 150),
			row(2, "h1", "h1", "/d/a.txt", 150),
			row(3, "h1", "h1", "/d/b.txt", 150),
		}
		plan := Detect(Input{Rows: rows, Disk: fsys.disk(), FS: fsys}, Options{Dimension: dim})
		assert.Equal(t, []int64{2, 3}, plan.Duplicates)
		assert.Equal(t, 1, plan.Unchanged)
		assert.Empty(t, plan.DeletePaths)
	})

	t.Run("older content version of same path", func(t *testing.T) {
		rows := []Row{
			row(1, "h1_p1_0", "h1", "/d/a.txt", 150),
			row(2, "h0_p1_0", "h0", "/d/a.txt", 90),
			row(3, "h1_p1_800", "h1", "/d/a.txt", 150),
		}
		plan := Detect(Input{Rows: rows, Disk: fsys.disk(), FS: fsys}, Options{Dimension: dim})
		assert.Equal(t, []int64{2}, plan.Duplicates)
		assert.Equal(t, 1, plan.Unchanged)
		assert.Empty(t, plan.Reindex)
	})
}

func TestDuplicates(t *testing.T) {
	rows := []Row{
		row(1, "h1", "h1", "/d/a.txt", 150),
		row(2, "h2", "h2", "/d/b.txt", 150),
		row(3, "h1", "h1", "/d/a.txt", 150),
		row(4, "h9", "h9", "/gone/c.txt", 150),
	}
	assert.Equal(t, []int64{3}, Duplicates(rows))
	assert.Empty(t, Duplicates(nil))
}

func TestDetect_UnreadableIsLeftAlone(t *testing.T) {
	rows := []Row{row(1, "h1", "h1", "/d/locked.txt", 150)}
	plan := Detect(Input{Rows: rows, FS: errFS{err: fs.ErrPermission}}, Options{Dimension: dim})
	assert.Empty(t, plan.DeletePaths)
	assert.Equal(t, 1, plan.Unreadable)
	assert.False(t, plan.FullReindex)
}

func TestDetect_Skips(t *testing.T) {
	fsys := fakeFS{
		"/d/indexed.txt": {Path: "/d/indexed.txt", ModTime: 100},
		"/d/blank.txt":   {Path: "/d/blank.txt", ModTime: 100},
		"/d/copy.txt":    {Path: "/d/copy.txt", ModTime: 100},
		"/d/edited.txt":  {Path: "/d/edited.txt", ModTime: 300},
		"/d/orphan.txt":  {Path: "/d/orphan.txt", ModTime: 100},
	}
	rows := []Row{row(1, "live", "live", "/d/indexed.txt", 150)}
	skips := []Skip{
		{Path: "/d/blank.txt", ContentHash: "b", Reason: SkipEmpty, ModTime: 100},
		{Path: "/d/copy.txt", ContentHash: "live", Reason: SkipDuplicate, ModTime: 100},
		{Path: "/d/edited.txt", ContentHash: "e", Reason: SkipEmpty, ModTime: 100},
		{Path: "/d/orphan.txt", ContentHash: "gone", Reason: SkipDuplicate, ModTime: 100},
		{Path: "/d/removed.txt", ContentHash: "r", Reason: SkipEmpty, ModTime: 100},
		{Path: "/d/indexed.txt", ContentHash: "live", Reason: SkipEmpty, ModTime: 100},
	}

	plan := Detect(Input{Rows: rows, Disk: fsys.disk(), Skips: skips, FS: fsys}, Options{Dimension: dim})
	assert.Equal(t, 2, plan.Skipped)

	var newPaths []string
	for _, st := range plan.New {
		newPaths = append(newPaths, st.Path)
	}
	assert.ElementsMatch(t, []string{"/d/edited.txt", "/d/orphan.txt"}, newPaths)
	assert.Equal(t, []string{"/d/indexed.txt", "/d/removed.txt"}, plan.PurgeSkips)
}

func TestOSFS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	mtime := time.Unix(1_700_000_000, 500_000_000)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	st, err := OSFS{}.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, path, st.Path)
	assert.Equal(t, int64(5), st.SizeBytes)
	assert.InDelta(t, 1_700_000_000.5, st.ModTime, 1e-3)

	_, err = OSFS{}.Stat(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
