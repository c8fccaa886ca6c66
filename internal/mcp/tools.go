package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ankur0405/personal-documents-handler/internal/indexer"
	"github.com/ankur0405/personal-documents-handler/internal/searcher"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeRootNotFound      = -32001 // Document root missing or not a directory
	ErrorCodeSyncInProgress    = -32002 // Another sync cycle is already running
	ErrorCodeIndexIncompatible = -32003 // Index was built with another model or metric
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
)

// maxReportedErrors caps the error samples included in a sync response.
const maxReportedErrors = 5

// handleSyncDocuments handles the sync_documents tool invocation
func (s *Server) handleSyncDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	root, err := s.syncRoot(getStringDefault(args, "path", ""))
	if err != nil {
		return nil, err
	}

	if s.indexer.Busy() {
		return nil, newMCPError(ErrorCodeSyncInProgress, "a sync is already running", nil)
	}

	result, err := s.indexer.Sync(ctx, root)
	// A failed cycle may still have written rows.
	s.searcher.Invalidate()
	if err != nil {
		return nil, syncError(err)
	}

	response := map[string]interface{}{
		"root":               result.Root,
		"run_id":             result.RunID,
		"changed":            result.Changed(),
		"full_reindex":       result.FullReindex,
		"chunks_written":     result.ChunksWritten,
		"files_indexed":      result.FilesIndexed,
		"files_reindexed":    result.FilesReindexed,
		"files_deleted":      result.FilesDeleted,
		"rows_deleted":       result.RowsDeleted,
		"files_skipped":      result.FilesSkipped,
		"files_failed":       result.FilesFailed,
		"files_unchanged":    result.Unchanged,
		"duplicates_removed": result.DuplicatesRemoved,
		"duplicate_content":  result.DuplicateContent,
		"batches_failed":     result.BatchesFailed,
		"duration_ms":        result.Duration.Milliseconds(),
	}

	if n := len(result.Errors); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = result.Errors[:maxReportedErrors]
			response["error_count"] = n
		} else {
			response["errors"] = result.Errors
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query := getStringDefault(args, "query", "")
	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{Query: query, Limit: limit})
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	case errors.Is(err, searcher.ErrDimensionMismatch), errors.Is(err, storage.ErrSchemaMismatch):
		return nil, newMCPError(ErrorCodeIndexIncompatible, "configured embedder does not match the index", map[string]interface{}{
			"error": err.Error(),
		})
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, hit := range resp.Results {
		results[i] = map[string]interface{}{
			"id":          hit.ID,
			"filename":    hit.Filename,
			"file_path":   hit.FilePath,
			"page_number": hit.PageNumber,
			"content":     hit.Content,
			"score":       hit.Score,
		}
	}

	response := map[string]interface{}{
		"query":       query,
		"results":     results,
		"total":       len(results),
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.store.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"root":         s.root,
		"sync_running": s.indexer.Busy(),
		"statistics": map[string]interface{}{
			"records":       status.Records,
			"files":         status.Files,
			"embedded":      status.Embedded,
			"pending":       status.Pending,
			"skipped_files": status.SkippedFiles,
			"index_size_mb": fmt.Sprintf("%.2f", status.SizeMB),
		},
		"build_mode": status.BuildMode,
	}

	if status.Settings != nil {
		response["index"] = map[string]interface{}{
			"model":     status.Settings.Model,
			"dimension": status.Settings.Dimension,
			"metric":    string(status.Settings.Metric),
		}
	}

	if run := status.LastRun; run != nil {
		last := map[string]interface{}{
			"id":                 run.ID,
			"root":               run.Root,
			"status":             run.Status,
			"started_at":         run.StartedAt.Format(time.RFC3339),
			"files_indexed":      run.FilesIndexed,
			"files_deleted":      run.FilesDeleted,
			"files_skipped":      run.FilesSkipped,
			"files_failed":       run.FilesFailed,
			"chunks_written":     run.ChunksWritten,
			"duplicates_removed": run.DuplicatesRemoved,
			"batches_failed":     run.BatchesFailed,
		}
		if !run.FinishedAt.IsZero() {
			last["finished_at"] = run.FinishedAt.Format(time.RFC3339)
		}
		if run.Error != "" {
			last["error"] = run.Error
		}
		response["last_sync"] = last
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// syncRoot resolves the root a sync request targets. The index holds a single
// root, so a path naming any other directory is rejected.
func (s *Server) syncRoot(path string) (string, error) {
	if path == "" {
		if s.root == "" {
			return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required when no root is configured", map[string]interface{}{
				"param":  "path",
				"reason": "missing or empty",
			})
		}
		return s.root, nil
	}
	if !filepath.IsAbs(path) {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrPathNotAbsolute.Error(),
		})
	}
	if s.root != "" && !samePath(path, s.root) {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrForeignRoot.Error(),
			"root":   s.root,
		})
	}
	return path, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// syncError maps indexer errors onto MCP error codes.
func syncError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, indexer.ErrSyncInProgress):
		return newMCPError(ErrorCodeSyncInProgress, "a sync is already running", nil)
	case errors.Is(err, indexer.ErrRootNotFound):
		return newMCPError(ErrorCodeRootNotFound, "document root not found", data)
	case errors.Is(err, storage.ErrSchemaMismatch):
		return newMCPError(ErrorCodeIndexIncompatible, "index was built with a different embedding configuration; run reset", data)
	case errors.Is(err, context.Canceled):
		return newMCPError(ErrorCodeInternalError, "sync cancelled", data)
	default:
		return newMCPError(ErrorCodeInternalError, "sync failed", data)
	}
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the call arguments. Tools without required parameters
// may be called with none at all.
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation errors
var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrForeignRoot     = errors.New("path is not the configured document root")
)
