package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ankur0405/personal-documents-handler/internal/changes"
	"github.com/ankur0405/personal-documents-handler/internal/chunker"
	"github.com/ankur0405/personal-documents-handler/internal/embedder"
	"github.com/ankur0405/personal-documents-handler/internal/extract"
	"github.com/ankur0405/personal-documents-handler/internal/identity"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
	"github.com/ankur0405/personal-documents-handler/internal/workerpool"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

var (
	// ErrRootNotFound is returned when the scan root does not exist or is not a directory
	ErrRootNotFound = errors.New("document root not found")
	// ErrSyncInProgress is returned when another cycle holds the lock
	ErrSyncInProgress = errors.New("sync already in progress")
)

// maxErrorSamples bounds SyncResult.Errors.
const maxErrorSamples = 20

// PoolFactory creates the extraction pool for one batch.
type PoolFactory func() (workerpool.Pool, error)

// Config contains configuration for the indexer
type Config struct {
	Workers        int           // Batch size and extraction parallelism
	DeleteBatch    int           // Paths per delete predicate (default: 50)
	MaxFileSize    int64         // Larger files are not indexed; 0 disables the limit
	MtimeTolerance time.Duration // Allowed drift between disk mtime and stored stamp
	EmbedTimeout   time.Duration // Per-batch embedding timeout; 0 disables it
	Metric         types.Metric
	Logger         *slog.Logger
}

// Indexer runs sync, scan and dedupe cycles against one store.
type Indexer struct {
	store    storage.Store
	embedder embedder.Embedder
	chunker  *chunker.Chunker
	table    extract.Table
	newPool  PoolFactory
	cfg      Config
	logger   *slog.Logger
	lock     runLock

	// Overridable in tests
	fs  changes.FS
	now func() time.Time
}

// New creates an indexer. Files are selected by table, extracted by pools
// from newPool, split by ch and embedded by emb.
func New(store storage.Store, emb embedder.Embedder, ch *chunker.Chunker, table extract.Table, newPool PoolFactory, cfg Config) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DeleteBatch <= 0 {
		cfg.DeleteBatch = 50
	}
	if cfg.MtimeTolerance <= 0 {
		cfg.MtimeTolerance = changes.DefaultTolerance
	}
	if cfg.Metric == "" {
		cfg.Metric = types.MetricL2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    store,
		embedder: emb,
		chunker:  ch,
		table:    table,
		newPool:  newPool,
		cfg:      cfg,
		logger:   logger,
		fs:       changes.OSFS{},
		now:      time.Now,
	}
}

// Busy reports whether a cycle is running.
func (idx *Indexer) Busy() bool {
	return idx.lock.busy()
}

// SyncResult reports what one cycle did. Every skipped file, failed batch
// and duplicate action is counted so that a quiet run can be told apart
// from one whose errors hid all changes.
type SyncResult struct {
	RunID             string
	Root              string
	ChunksWritten     int
	FilesIndexed      int
	FilesDeleted      int // Files gone from disk whose rows were removed
	FilesReindexed    int // Stale files scheduled for re-extraction
	RowsDeleted       int
	FilesSkipped      int // Unreadable, empty, or already-skipped files
	FilesFailed       int // Files lost to extraction, embedding or store failures
	DuplicatesRemoved int // Duplicate rows removed by the collapse pass
	DuplicateContent  int // Files whose content is indexed under another path
	BatchesFailed     int
	Unchanged         int
	FullReindex       bool
	Duration          time.Duration
	Errors            []string // First few error messages
}

// Changed reports whether the cycle wrote or deleted anything.
func (r *SyncResult) Changed() bool {
	return r.ChunksWritten > 0 || r.RowsDeleted > 0 || r.DuplicatesRemoved > 0
}

func (r *SyncResult) addError(format string, args ...any) {
	if len(r.Errors) < maxErrorSamples {
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}
}

// Sync brings the index in line with the files under root. Deletions are
// applied before any new chunk is written. Cancelling ctx stops the cycle
// after the current batch; the partial result is returned with ctx.Err().
func (idx *Indexer) Sync(ctx context.Context, root string) (*SyncResult, error) {
	root, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	if err := idx.lock.acquire("sync", idx.now()); err != nil {
		return nil, err
	}
	defer idx.lock.release()

	settings := storage.IndexSettings{
		Model:     idx.embedder.Model(),
		Dimension: idx.embedder.Dimension(),
		Metric:    idx.cfg.Metric,
	}
	if err := idx.store.EnsureIndexSettings(ctx, settings); err != nil {
		return nil, err
	}

	res := &SyncResult{RunID: uuid.NewString(), Root: root}
	log := idx.logger.With("run_id", res.RunID)
	run := &storage.SyncRun{ID: res.RunID, Root: root, Status: storage.RunRunning, StartedAt: idx.now()}
	if err := idx.store.RecordSyncRun(ctx, run); err != nil {
		log.Warn("recording sync run", "error", err)
	}

	log.Info("sync started", "root", root)
	err = idx.sync(ctx, root, res, log)
	res.Duration = idx.now().Sub(run.StartedAt)

	run.FinishedAt = idx.now()
	run.FilesIndexed = res.FilesIndexed
	run.FilesDeleted = res.FilesDeleted
	run.FilesSkipped = res.FilesSkipped + res.DuplicateContent
	run.FilesFailed = res.FilesFailed
	run.ChunksWritten = res.ChunksWritten
	run.DuplicatesRemoved = res.DuplicatesRemoved
	run.BatchesFailed = res.BatchesFailed
	switch {
	case err == nil:
		run.Status = storage.RunCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = storage.RunCancelled
		run.Error = err.Error()
	default:
		run.Status = storage.RunFailed
		run.Error = err.Error()
	}
	if rerr := idx.store.RecordSyncRun(context.WithoutCancel(ctx), run); rerr != nil {
		log.Warn("recording sync run", "error", rerr)
	}

	log.Info("sync finished",
		"status", run.Status,
		"chunks_written", res.ChunksWritten,
		"files_indexed", res.FilesIndexed,
		"files_deleted", res.FilesDeleted,
		"files_skipped", res.FilesSkipped,
		"files_failed", res.FilesFailed,
		"duplicates_removed", res.DuplicatesRemoved,
		"duplicate_content", res.DuplicateContent,
		"batches_failed", res.BatchesFailed,
		"duration", res.Duration,
	)
	return res, err
}

func (idx *Indexer) sync(ctx context.Context, root string, res *SyncResult, log *slog.Logger) error {
	walked, err := idx.walk(ctx, root, log)
	if err != nil {
		return err
	}
	res.FilesSkipped += walked.oversized

	rows, err := idx.loadRows(ctx)
	if err != nil {
		return err
	}
	skips, err := idx.store.ListSkips(ctx)
	if err != nil {
		return err
	}

	plan := changes.Detect(changes.Input{
		Rows:  rows,
		Disk:  walked.files,
		Skips: skips,
		FS:    idx.fs,
	}, changes.Options{
		Dimension: idx.embedder.Dimension(),
		Tolerance: idx.cfg.MtimeTolerance,
	})
	rows = nil

	res.Unchanged = plan.Unchanged + plan.Skipped
	res.FilesReindexed = len(plan.Reindex)
	res.FilesDeleted = len(plan.DeletePaths) - len(plan.Reindex)
	res.FullReindex = plan.FullReindex
	if plan.Unreadable > 0 {
		log.Warn("persisted files could not be checked", "count", plan.Unreadable)
		res.FilesSkipped += plan.Unreadable
	}
	log.Debug("change plan",
		"unchanged", plan.Unchanged,
		"reindex", len(plan.Reindex),
		"new", len(plan.New),
		"delete_paths", len(plan.DeletePaths),
		"duplicate_rows", len(plan.Duplicates),
		"full_reindex", plan.FullReindex,
	)

	if err := idx.applyDeletions(ctx, plan, res, log); err != nil {
		return err
	}

	tasks := plan.Tasks()
	if len(tasks) == 0 {
		return nil
	}

	pending, err := idx.prepare(ctx, tasks, res, log)
	if err != nil {
		return err
	}

	for start := 0; start < len(pending); start += idx.cfg.Workers {
		if err := ctx.Err(); err != nil {
			log.Info("sync interrupted", "remaining_files", len(pending)-start)
			return err
		}
		end := min(start+idx.cfg.Workers, len(pending))
		idx.processBatch(ctx, pending[start:end], res, log)
	}
	return nil
}

// loadRows materializes the metadata of every persisted row.
func (idx *Indexer) loadRows(ctx context.Context) ([]changes.Row, error) {
	var rows []changes.Row
	err := idx.store.ScanRows(ctx, func(r changes.Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load persisted rows: %w", err)
	}
	return rows, nil
}

// applyDeletions removes duplicate rows, then stale and missing paths.
// A failure here ends the cycle: nothing may be written for a path whose
// old rows are still present.
func (idx *Indexer) applyDeletions(ctx context.Context, plan *changes.Plan, res *SyncResult, log *slog.Logger) error {
	if len(plan.Duplicates) > 0 {
		n, err := idx.store.DeleteRows(ctx, plan.Duplicates)
		if err != nil {
			return fmt.Errorf("remove duplicate rows: %w", err)
		}
		res.DuplicatesRemoved = n
		log.Info("removed duplicate rows", "count", n)
	}

	if len(plan.DeletePaths) > 0 {
		var (
			n   int
			err error
		)
		if plan.FullReindex {
			log.Info("every indexed file changed, clearing index")
			n, err = idx.store.ClearAll(ctx)
		} else {
			n, err = idx.store.DeleteByPaths(ctx, plan.DeletePaths, idx.cfg.DeleteBatch)
		}
		if err != nil {
			return fmt.Errorf("delete stale rows: %w", err)
		}
		res.RowsDeleted = n
		log.Info("deleted stale rows", "paths", len(plan.DeletePaths), "rows", n)
	}

	if len(plan.PurgeSkips) > 0 {
		if _, err := idx.store.DeleteSkips(ctx, plan.PurgeSkips); err != nil {
			log.Warn("purging skip entries", "error", err)
		}
	}
	return nil
}

// prepare hashes every task and drops content that is already indexed
// under another path, or queued earlier in this cycle.
func (idx *Indexer) prepare(ctx context.Context, tasks []changes.FileState, res *SyncResult, log *slog.Logger) ([]types.FileMeta, error) {
	live, err := idx.store.ContentHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load content hashes: %w", err)
	}

	queued := make(map[string]string, len(tasks))
	pending := make([]types.FileMeta, 0, len(tasks))
	for _, st := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Stale files were stat'ed outside the walk.
		if idx.cfg.MaxFileSize > 0 && st.SizeBytes > idx.cfg.MaxFileSize {
			log.Info("skipping oversized file", "path", st.Path, "size", st.SizeBytes)
			res.FilesSkipped++
			continue
		}

		hash, err := identity.Hash(st.Path)
		if err != nil {
			log.Warn("skipping file", "path", st.Path, "error", err)
			res.FilesSkipped++
			res.addError("hash %s: %v", st.Path, err)
			continue
		}

		original, indexed := live[hash]
		if !indexed || original == st.Path {
			original, indexed = queued[hash]
		}
		if indexed && original != st.Path {
			log.Info("duplicate content", "path", st.Path, "original", original)
			res.DuplicateContent++
			idx.remember(ctx, changes.Skip{Path: st.Path, ContentHash: hash, Reason: changes.SkipDuplicate, ModTime: st.ModTime}, log)
			continue
		}
		queued[hash] = st.Path

		pending = append(pending, types.FileMeta{
			Path:         st.Path,
			ContentHash:  hash,
			SizeBytes:    st.SizeBytes,
			CreationDate: st.CreationDate,
			ModTime:      st.ModTime,
		})
	}
	return pending, nil
}

// processBatch extracts, chunks, embeds and stores one batch. Failures are
// logged and counted; they never abort the cycle.
func (idx *Indexer) processBatch(ctx context.Context, batch []types.FileMeta, res *SyncResult, log *slog.Logger) {
	// The batch runs to completion once started.
	ctx = context.WithoutCancel(ctx)

	tasks := make([]workerpool.Task, len(batch))
	for i, m := range batch {
		tasks[i] = workerpool.Task{Path: m.Path, FileType: types.NormalizeExt(m.Path)}
	}

	pool, err := idx.newPool()
	if err != nil {
		log.Error("starting extraction pool", "error", err)
		res.BatchesFailed++
		res.FilesFailed += len(batch)
		res.addError("start pool: %v", err)
		return
	}
	results := pool.Run(ctx, tasks)
	if err := pool.Close(); err != nil {
		log.Warn("closing extraction pool", "error", err)
	}

	var (
		records []types.FileRecord
		files   int
	)
	for i, r := range results {
		meta := batch[i]
		if r.Err != nil {
			log.Warn("extraction failed", "path", meta.Path, "error", r.Err)
			res.FilesFailed++
			res.addError("extract %s: %v", meta.Path, r.Err)
			continue
		}
		recs := idx.chunker.Records(meta, r.Units)
		if len(recs) == 0 {
			log.Info("no text extracted", "path", meta.Path)
			res.FilesSkipped++
			idx.remember(ctx, changes.Skip{Path: meta.Path, ContentHash: meta.ContentHash, Reason: changes.SkipEmpty, ModTime: meta.ModTime}, log)
			continue
		}
		records = append(records, recs...)
		files++
	}
	results = nil
	if len(records) == 0 {
		return
	}

	ectx, cancel := ctx, context.CancelFunc(func() {})
	if idx.cfg.EmbedTimeout > 0 {
		ectx, cancel = context.WithTimeout(ctx, idx.cfg.EmbedTimeout)
	}
	vectors, err := embedder.Vectors(ectx, idx.embedder, chunker.EmbeddingTexts(records))
	cancel()
	if err != nil {
		log.Error("embedding batch failed", "files", files, "chunks", len(records), "error", err)
		res.BatchesFailed++
		res.FilesFailed += files
		res.addError("embed batch: %v", err)
		return
	}

	// The stamp must not fall behind the file's mtime, even when the
	// clock reads earlier than a timestamp written by another machine.
	stamp := changes.UnixSeconds(idx.now())
	for i := range records {
		records[i].Vector = vectors[i]
		records[i].LastModified = max(stamp, records[i].LastModified)
	}

	n, err := idx.store.UpsertRecords(ctx, records)
	if err != nil {
		log.Error("storing batch failed", "files", files, "chunks", len(records), "error", err)
		res.BatchesFailed++
		res.FilesFailed += files
		res.addError("store batch: %v", err)
		return
	}
	res.ChunksWritten += n
	res.FilesIndexed += files
	log.Debug("batch stored", "files", files, "chunks", n)
}

func (idx *Indexer) remember(ctx context.Context, skip changes.Skip, log *slog.Logger) {
	if err := idx.store.PutSkip(ctx, skip); err != nil {
		log.Warn("recording skipped file", "path", skip.Path, "error", err)
	}
}

// resolveRoot returns the absolute form of root, which must be a directory.
func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: no root configured", ErrRootNotFound)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRootNotFound, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, abs)
	}
	return abs, nil
}
