package storage

import (
	"context"
	"time"

	"github.com/ankur0405/personal-documents-handler/internal/changes"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// Store persists document records and answers similarity queries.
type Store interface {
	// Record operations
	UpsertRecords(ctx context.Context, records []types.FileRecord) (int, error)
	AppendRecords(ctx context.Context, records []types.FileRecord) (int, error)
	DeleteByPaths(ctx context.Context, paths []string, batch int) (int, error)
	DeleteRows(ctx context.Context, rowIDs []int64) (int, error)
	ClearAll(ctx context.Context) (int, error)
	ScanRows(ctx context.Context, fn func(changes.Row) error) error
	ContentHashes(ctx context.Context) (map[string]string, error)
	RecordsByPath(ctx context.Context, path string) ([]types.FileRecord, error)

	// Search operations
	Search(ctx context.Context, vector []float32, metric types.Metric, limit int) ([]VectorHit, error)

	// Skipped file operations
	ListSkips(ctx context.Context) ([]changes.Skip, error)
	PutSkip(ctx context.Context, skip changes.Skip) error
	DeleteSkips(ctx context.Context, paths []string) (int, error)

	// Settings operations
	Meta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
	EnsureIndexSettings(ctx context.Context, settings IndexSettings) error
	CheckIndexSettings(ctx context.Context, settings IndexSettings) error
	IndexSettings(ctx context.Context) (*IndexSettings, error)
	Generation(ctx context.Context) (Generation, error)

	// Run history and status
	RecordSyncRun(ctx context.Context, run *SyncRun) error
	LastSyncRun(ctx context.Context) (*SyncRun, error)
	Status(ctx context.Context) (*Status, error)

	// Database operations
	Reset(ctx context.Context) error
	Close() error
}

// Meta keys holding the index settings.
const (
	MetaEmbeddingModel     = "embedding_model"
	MetaEmbeddingDimension = "embedding_dimension"
	MetaMetric             = "metric"
)

// IndexSettings are fixed when the first record is written. Changing any of
// them invalidates the geometry of every stored vector.
type IndexSettings struct {
	Model     string
	Dimension int
	Metric    types.Metric
}

// Generation identifies a state of the store contents. Two equal values
// mean no commit happened in between.
type Generation struct {
	DataVersion int64
	Writes      uint64
}

// VectorHit is one nearest-neighbour result. Record.Vector is not loaded.
type VectorHit struct {
	Record   types.FileRecord
	Distance float64
}

// Sync run statuses
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// SyncRun is the history entry of one sync cycle.
type SyncRun struct {
	ID                string
	Root              string
	Status            string
	StartedAt         time.Time
	FinishedAt        time.Time
	FilesIndexed      int
	FilesDeleted      int
	FilesSkipped      int
	FilesFailed       int
	ChunksWritten     int
	DuplicatesRemoved int
	BatchesFailed     int
	Error             string
}

// Status summarizes the store contents.
type Status struct {
	Records      int
	Files        int
	Embedded     int
	Pending      int // Rows still carrying the zero vector
	SkippedFiles int
	SizeMB       float64
	BuildMode    string
	Settings     *IndexSettings // nil until the first sync
	LastRun      *SyncRun       // nil before the first sync
}
