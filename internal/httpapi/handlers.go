package httpapi

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ankur0405/personal-documents-handler/internal/indexer"
	"github.com/ankur0405/personal-documents-handler/internal/searcher"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// MIMEMsgpack is served when the client asks for it in Accept.
const MIMEMsgpack = "application/msgpack"

// Handler handles API requests.
type Handler struct {
	indexer  Syncer
	searcher Searcher
	store    StatusSource
	root     string
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(idx Syncer, srch Searcher, store StatusSource, root string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{indexer: idx, searcher: srch, store: store, root: root, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

type searchResponse struct {
	Query      string            `json:"query"`
	Results    []types.SearchHit `json:"results"`
	Total      int               `json:"total"`
	CacheHit   bool              `json:"cache_hit"`
	DurationMS int64             `json:"duration_ms"`
}

type syncResponse struct {
	RunID             string   `json:"run_id"`
	Root              string   `json:"root"`
	Changed           bool     `json:"changed"`
	FullReindex       bool     `json:"full_reindex"`
	ChunksWritten     int      `json:"chunks_written"`
	FilesIndexed      int      `json:"files_indexed"`
	FilesReindexed    int      `json:"files_reindexed"`
	FilesDeleted      int      `json:"files_deleted"`
	RowsDeleted       int      `json:"rows_deleted"`
	FilesSkipped      int      `json:"files_skipped"`
	FilesFailed       int      `json:"files_failed"`
	FilesUnchanged    int      `json:"files_unchanged"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	DuplicateContent  int      `json:"duplicate_content"`
	BatchesFailed     int      `json:"batches_failed"`
	DurationMS        int64    `json:"duration_ms"`
	Errors            []string `json:"errors,omitempty"`
}

type statusResponse struct {
	Root         string       `json:"root"`
	SyncRunning  bool         `json:"sync_running"`
	Records      int          `json:"records"`
	Files        int          `json:"files"`
	Embedded     int          `json:"embedded"`
	Pending      int          `json:"pending"`
	SkippedFiles int          `json:"skipped_files"`
	SizeMB       float64      `json:"index_size_mb"`
	BuildMode    string       `json:"build_mode"`
	Index        *indexInfo   `json:"index,omitempty"`
	LastSync     *lastSyncRun `json:"last_sync,omitempty"`
}

type indexInfo struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
}

type lastSyncRun struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	FilesIndexed  int        `json:"files_indexed"`
	FilesDeleted  int        `json:"files_deleted"`
	FilesFailed   int        `json:"files_failed"`
	ChunksWritten int        `json:"chunks_written"`
	Error         string     `json:"error,omitempty"`
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// HandleSearch runs a semantic query: GET /api/search?q=...&limit=5
func (h *Handler) HandleSearch(c echo.Context) error {
	query := c.QueryParam("q")
	limit := searcher.DefaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > searcher.MaxLimit {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be an integer between 1 and " + strconv.Itoa(searcher.MaxLimit)})
		}
		limit = n
	}

	resp, err := h.searcher.Search(c.Request().Context(), searcher.SearchRequest{Query: query, Limit: limit})
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "query parameter q is required"})
	case errors.Is(err, searcher.ErrDimensionMismatch), errors.Is(err, storage.ErrSchemaMismatch):
		return c.JSON(http.StatusPreconditionFailed, errorResponse{Error: err.Error()})
	case err != nil:
		h.logger.Error("search failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "search failed"})
	}

	results := resp.Results
	if results == nil {
		results = []types.SearchHit{}
	}
	out := searchResponse{
		Query:      strings.TrimSpace(query),
		Results:    results,
		Total:      len(results),
		CacheHit:   resp.CacheHit,
		DurationMS: resp.Duration.Milliseconds(),
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEMsgpack) {
		return h.writeMsgpack(c, out)
	}
	return c.JSON(http.StatusOK, out)
}

// HandleSync runs one sync cycle over the configured root: POST /api/sync
func (h *Handler) HandleSync(c echo.Context) error {
	if h.indexer.Busy() {
		return c.JSON(http.StatusConflict, errorResponse{Error: indexer.ErrSyncInProgress.Error()})
	}

	result, err := h.indexer.Sync(c.Request().Context(), h.root)
	h.searcher.Invalidate()
	switch {
	case errors.Is(err, indexer.ErrSyncInProgress):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, indexer.ErrRootNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrSchemaMismatch):
		return c.JSON(http.StatusPreconditionFailed, errorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "sync cancelled"})
	case err != nil:
		h.logger.Error("sync failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, syncResponse{
		RunID:             result.RunID,
		Root:              result.Root,
		Changed:           result.Changed(),
		FullReindex:       result.FullReindex,
		ChunksWritten:     result.ChunksWritten,
		FilesIndexed:      result.FilesIndexed,
		FilesReindexed:    result.FilesReindexed,
		FilesDeleted:      result.FilesDeleted,
		RowsDeleted:       result.RowsDeleted,
		FilesSkipped:      result.FilesSkipped,
		FilesFailed:       result.FilesFailed,
		FilesUnchanged:    result.Unchanged,
		DuplicatesRemoved: result.DuplicatesRemoved,
		DuplicateContent:  result.DuplicateContent,
		BatchesFailed:     result.BatchesFailed,
		DurationMS:        result.Duration.Milliseconds(),
		Errors:            result.Errors,
	})
}

// HandleStatus reports index statistics: GET /api/status
func (h *Handler) HandleStatus(c echo.Context) error {
	status, err := h.store.Status(c.Request().Context())
	if err != nil {
		h.logger.Error("status failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read index status"})
	}

	out := statusResponse{
		Root:         h.root,
		SyncRunning:  h.indexer.Busy(),
		Records:      status.Records,
		Files:        status.Files,
		Embedded:     status.Embedded,
		Pending:      status.Pending,
		SkippedFiles: status.SkippedFiles,
		SizeMB:       status.SizeMB,
		BuildMode:    status.BuildMode,
	}
	if s := status.Settings; s != nil {
		out.Index = &indexInfo{Model: s.Model, Dimension: s.Dimension, Metric: string(s.Metric)}
	}
	if run := status.LastRun; run != nil {
		last := &lastSyncRun{
			ID:            run.ID,
			Status:        run.Status,
			StartedAt:     run.StartedAt,
			FilesIndexed:  run.FilesIndexed,
			FilesDeleted:  run.FilesDeleted,
			FilesFailed:   run.FilesFailed,
			ChunksWritten: run.ChunksWritten,
			Error:         run.Error,
		}
		if !run.FinishedAt.IsZero() {
			finished := run.FinishedAt
			last.FinishedAt = &finished
		}
		out.LastSync = last
	}
	return c.JSON(http.StatusOK, out)
}

// writeMsgpack encodes v using the json field names so both encodings agree.
func (h *Handler) writeMsgpack(c echo.Context, v any) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to encode msgpack"})
	}
	return c.Blob(http.StatusOK, MIMEMsgpack, buf.Bytes())
}
