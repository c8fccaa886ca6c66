// Package changes decides what a sync cycle has to do by comparing the rows
// persisted in the store with the files currently on disk.
//
// Detect is a pure function over its inputs apart from the FS it is given:
// it never touches the store, so the orchestrator can apply the resulting
// Plan in the required order (duplicates, deletions, then reindexing).
package changes

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"
)

// DefaultTolerance absorbs filesystem timestamp granularity.
const DefaultTolerance = time.Second

// Reasons a file is remembered as skipped.
const (
	SkipEmpty     = "empty"     // Extraction produced no text
	SkipDuplicate = "duplicate" // Same content is indexed under another path
)

// Row is the persisted metadata of one record, in insertion order.
type Row struct {
	RowID           int64
	ID              string
	ContentHash     string
	FilePath        string
	LastModified    *float64 // Unix seconds; nil when absent or unparseable
	HasVectorColumn bool
	VectorLen       int // -1 when the vector is null
	VectorZero      bool
}

// FileState is the filesystem view of one file.
type FileState struct {
	Path         string
	ModTime      float64 // Unix seconds
	SizeBytes    int64
	CreationDate float64
}

// Skip remembers a file that was processed but produced no record, so that
// later cycles do not extract it again while it is unchanged.
type Skip struct {
	Path        string
	ContentHash string
	Reason      string
	ModTime     float64
}

// FS answers existence and modification time queries.
type FS interface {
	Stat(path string) (FileState, error)
}

// OSFS reads the local filesystem.
type OSFS struct{}

// Stat implements FS.
func (OSFS) Stat(path string) (FileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileState{}, err
	}
	return StateOf(path, info), nil
}

// StateOf converts file info into a FileState. Creation time is not
// portable, so the modification time stands in for it.
func StateOf(path string, info fs.FileInfo) FileState {
	mtime := UnixSeconds(info.ModTime())
	return FileState{
		Path:         path,
		ModTime:      mtime,
		SizeBytes:    info.Size(),
		CreationDate: mtime,
	}
}

// UnixSeconds converts t to fractional Unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Options tune detection.
type Options struct {
	Dimension int           // Expected vector length
	Tolerance time.Duration // Allowed mtime drift; below one second is raised to one second
}

// Input is everything Detect looks at.
type Input struct {
	Rows  []Row
	Disk  []FileState // Result of the walk, used to find new files
	Skips []Skip
	FS    FS // Defaults to OSFS
}

// Plan is the work one cycle has to perform.
type Plan struct {
	// Duplicates are row ids to remove before anything else.
	Duplicates []int64
	// DeletePaths are paths whose rows must all be purged, sorted.
	DeletePaths []string
	// Reindex are stale files still present on disk.
	Reindex []FileState
	// New are files on disk with no persisted row.
	New []FileState
	// FullReindex is set when every persisted path is a deletion target.
	FullReindex bool
	// PurgeSkips are skip entries that no longer apply.
	PurgeSkips []string

	Unchanged  int // Persisted paths left alone
	Skipped    int // Files on disk still covered by a skip entry
	Unreadable int // Persisted paths whose stat failed for a reason other than absence
}

// Tasks returns the files to extract: reindex tasks first, then new files.
func (p *Plan) Tasks() []FileState {
	tasks := make([]FileState, 0, len(p.Reindex)+len(p.New))
	tasks = append(tasks, p.Reindex...)
	return append(tasks, p.New...)
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Duplicates) == 0 && len(p.DeletePaths) == 0 &&
		len(p.Reindex) == 0 && len(p.New) == 0 && len(p.PurgeSkips) == 0
}

// pathState aggregates the surviving rows of one path.
type pathState struct {
	path         string
	contentHash  string
	lastModified float64 // Oldest stamp across the path's rows
	badVector    bool
}

// Detect builds the plan for one cycle.
func Detect(in Input, opts Options) *Plan {
	fsys := in.FS
	if fsys == nil {
		fsys = OSFS{}
	}
	tolerance := opts.Tolerance
	if tolerance < DefaultTolerance {
		tolerance = DefaultTolerance
	}

	plan := &Plan{}
	paths := collapse(in.Rows, opts.Dimension, plan)

	live := make(map[string]bool, len(paths)) // Content hashes that stay indexed
	persisted := make(map[string]bool, len(paths))
	deleted := 0

	for _, ps := range paths {
		persisted[ps.path] = true

		st, err := fsys.Stat(ps.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				plan.DeletePaths = append(plan.DeletePaths, ps.path)
				deleted++
				continue
			}
			plan.Unreadable++
			live[ps.contentHash] = true
			continue
		}

		drift := st.ModTime - ps.lastModified
		if ps.badVector || drift > tolerance.Seconds() {
			plan.DeletePaths = append(plan.DeletePaths, ps.path)
			plan.Reindex = append(plan.Reindex, st)
			deleted++
			continue
		}

		plan.Unchanged++
		live[ps.contentHash] = true
	}
	sort.Strings(plan.DeletePaths)
	plan.FullReindex = len(paths) > 0 && deleted == len(paths)

	skips := make(map[string]Skip, len(in.Skips))
	for _, s := range in.Skips {
		skips[s.Path] = s
	}

	onDisk := make(map[string]bool, len(in.Disk))
	for _, st := range in.Disk {
		onDisk[st.Path] = true
		if persisted[st.Path] {
			continue
		}
		if s, ok := skips[st.Path]; ok && skipStillValid(s, st, tolerance, live) {
			plan.Skipped++
			continue
		}
		plan.New = append(plan.New, st)
	}

	for _, s := range in.Skips {
		if !onDisk[s.Path] || persisted[s.Path] {
			plan.PurgeSkips = append(plan.PurgeSkips, s.Path)
		}
	}
	sort.Strings(plan.PurgeSkips)
	return plan
}

// Duplicates returns the row ids a duplicate collapse would remove, without
// looking at the filesystem.
func Duplicates(rows []Row) []int64 {
	plan := &Plan{}
	collapse(rows, 0, plan)
	return plan.Duplicates
}

// collapse drops duplicate rows into plan.Duplicates and returns the
// surviving state of every path in first-seen order. Per path, the first
// row fixes the surviving content version; rows of another version, and
// rows repeating an id already seen, are scheduled for removal.
func collapse(rows []Row, dim int, plan *Plan) []*pathState {
	byPath := make(map[string]*pathState)
	var order []*pathState
	seenIDs := make(map[string]bool, len(rows))

	for _, r := range rows {
		ps, known := byPath[r.FilePath]
		if seenIDs[r.ID] || (known && ps.contentHash != r.ContentHash) {
			plan.Duplicates = append(plan.Duplicates, r.RowID)
			continue
		}
		seenIDs[r.ID] = true

		stamp := 0.0
		if r.LastModified != nil {
			stamp = *r.LastModified
		}
		if !known {
			ps = &pathState{path: r.FilePath, contentHash: r.ContentHash, lastModified: stamp}
			byPath[r.FilePath] = ps
			order = append(order, ps)
		} else if stamp < ps.lastModified {
			ps.lastModified = stamp
		}
		if vectorStale(r, dim) {
			ps.badVector = true
		}
	}
	return order
}

// vectorStale reports rows whose vector must be recomputed.
func vectorStale(r Row, dim int) bool {
	if !r.HasVectorColumn || r.VectorLen < 0 || r.VectorZero {
		return true
	}
	return dim > 0 && r.VectorLen != dim
}

// skipStillValid reports whether a remembered skip still covers the file.
// Duplicates stop applying once the content they duplicated is gone.
func skipStillValid(s Skip, st FileState, tolerance time.Duration, live map[string]bool) bool {
	if st.ModTime-s.ModTime > tolerance.Seconds() {
		return false
	}
	if s.Reason == SkipDuplicate {
		return live[s.ContentHash]
	}
	return true
}
