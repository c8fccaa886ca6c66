package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankur0405/personal-documents-handler/internal/indexer"
	"github.com/ankur0405/personal-documents-handler/internal/searcher"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

type fakeIndexer struct {
	busy   bool
	err    error
	result *indexer.SyncResult
	roots  []string
}

func (f *fakeIndexer) Sync(ctx context.Context, root string) (*indexer.SyncResult, error) {
	f.roots = append(f.roots, root)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeIndexer) Busy() bool { return f.busy }

type fakeSearcher struct {
	resp        *searcher.SearchResponse
	err         error
	last        searcher.SearchRequest
	invalidated int
}

func (f *fakeSearcher) Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeSearcher) Invalidate() { f.invalidated++ }

type fakeStatus struct {
	status *storage.Status
	err    error
}

func (f *fakeStatus) Status(ctx context.Context) (*storage.Status, error) {
	return f.status, f.err
}

func newTestServer(t *testing.T, root string) (*Server, *fakeIndexer, *fakeSearcher, *fakeStatus) {
	t.Helper()
	idx := &fakeIndexer{result: &indexer.SyncResult{
		Root:          root,
		RunID:         "run-1",
		ChunksWritten: 7,
		FilesIndexed:  2,
		FilesDeleted:  1,
		RowsDeleted:   3,
		Duration:      1500 * time.Millisecond,
	}}
	srch := &fakeSearcher{resp: &searcher.SearchResponse{}}
	st := &fakeStatus{status: &storage.Status{Records: 4, Files: 2, Embedded: 3, Pending: 1, BuildMode: "sqlite-vec"}}
	s := NewServer(Deps{Indexer: idx, Searcher: srch, Store: st, Root: root})
	return s, idx, srch, st
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args != nil {
		req.Params.Arguments = args
	}
	return req
}

func decode(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
	return mcpErr
}

func TestSyncDocuments(t *testing.T) {
	root := t.TempDir()

	t.Run("defaults to configured root", func(t *testing.T) {
		s, idx, srch, _ := newTestServer(t, root)
		result, err := s.handleSyncDocuments(context.Background(), callRequest(nil))
		require.NoError(t, err)

		assert.Equal(t, []string{root}, idx.roots)
		assert.Equal(t, 1, srch.invalidated)

		out := decode(t, result)
		assert.Equal(t, float64(7), out["chunks_written"])
		assert.Equal(t, float64(1), out["files_deleted"])
		assert.Equal(t, float64(1500), out["duration_ms"])
		assert.Equal(t, true, out["changed"])
		assert.NotContains(t, out, "errors")
	})

	t.Run("explicit matching path", func(t *testing.T) {
		s, idx, _, _ := newTestServer(t, root)
		_, err := s.handleSyncDocuments(context.Background(), callRequest(map[string]interface{}{
			"path": root + string(filepath.Separator),
		}))
		require.NoError(t, err)
		assert.Len(t, idx.roots, 1)
	})

	t.Run("foreign root rejected", func(t *testing.T) {
		s, idx, _, _ := newTestServer(t, root)
		_, err := s.handleSyncDocuments(context.Background(), callRequest(map[string]interface{}{
			"path": t.TempDir(),
		}))
		requireCode(t, err, ErrorCodeInvalidParams)
		assert.Empty(t, idx.roots)
	})

	t.Run("relative path rejected", func(t *testing.T) {
		s, _, _, _ := newTestServer(t, "")
		_, err := s.handleSyncDocuments(context.Background(), callRequest(map[string]interface{}{
			"path": "docs",
		}))
		requireCode(t, err, ErrorCodeInvalidParams)
	})

	t.Run("no root anywhere", func(t *testing.T) {
		s, _, _, _ := newTestServer(t, "")
		_, err := s.handleSyncDocuments(context.Background(), callRequest(nil))
		requireCode(t, err, ErrorCodeInvalidParams)
	})

	t.Run("busy", func(t *testing.T) {
		s, idx, _, _ := newTestServer(t, root)
		idx.busy = true
		_, err := s.handleSyncDocuments(context.Background(), callRequest(nil))
		requireCode(t, err, ErrorCodeSyncInProgress)
		assert.Empty(t, idx.roots)
	})

	t.Run("error mapping", func(t *testing.T) {
		cases := []struct {
			err  error
			code int
		}{
			{indexer.ErrSyncInProgress, ErrorCodeSyncInProgress},
			{fmt.Errorf("%w: /gone", indexer.ErrRootNotFound), ErrorCodeRootNotFound},
			{fmt.Errorf("ensure settings: %w", storage.ErrSchemaMismatch), ErrorCodeIndexIncompatible},
			{errors.New("disk full"), ErrorCodeInternalError},
		}
		for _, tc := range cases {
			s, idx, srch, _ := newTestServer(t, root)
			idx.err = tc.err
			_, err := s.handleSyncDocuments(context.Background(), callRequest(nil))
			requireCode(t, err, tc.code)
			assert.Equal(t, 1, srch.invalidated)
		}
	})

	t.Run("error samples capped", func(t *testing.T) {
		s, idx, _, _ := newTestServer(t, root)
		for i := 0; i < 8; i++ {
			idx.result.Errors = append(idx.result.Errors, fmt.Sprintf("file %d failed", i))
		}
		result, err := s.handleSyncDocuments(context.Background(), callRequest(nil))
		require.NoError(t, err)
		out := decode(t, result)
		assert.Len(t, out["errors"], maxReportedErrors)
		assert.Equal(t, float64(8), out["error_count"])
	})
}

func TestSearchDocuments(t *testing.T) {
	s, _, srch, _ := newTestServer(t, "/docs")
	srch.resp = &searcher.SearchResponse{
		Results: []types.SearchHit{
			{ID: "a_p1_0", Filename: "a.pdf", FilePath: "/docs/a.pdf", PageNumber: 1, Content: "tax return", Score: 0.9},
			{ID: "b_p2_0", Filename: "b.txt", FilePath: "/docs/b.txt", PageNumber: 2, Content: "receipt", Score: 0.4},
		},
		CacheHit: true,
	}

	result, err := s.handleSearchDocuments(context.Background(), callRequest(map[string]interface{}{
		"query": "tax",
		"limit": float64(2),
	}))
	require.NoError(t, err)
	assert.Equal(t, searcher.SearchRequest{Query: "tax", Limit: 2}, srch.last)

	out := decode(t, result)
	assert.Equal(t, float64(2), out["total"])
	assert.Equal(t, true, out["cache_hit"])
	results := out["results"].([]interface{})
	first := results[0].(map[string]interface{})
	assert.Equal(t, "a.pdf", first["filename"])
	assert.Equal(t, float64(1), first["page_number"])
	assert.InDelta(t, 0.9, first["score"], 1e-9)
}

func TestSearchDocuments_Errors(t *testing.T) {
	t.Run("limit out of range", func(t *testing.T) {
		s, _, _, _ := newTestServer(t, "/docs")
		_, err := s.handleSearchDocuments(context.Background(), callRequest(map[string]interface{}{
			"query": "tax",
			"limit": float64(500),
		}))
		requireCode(t, err, ErrorCodeInvalidParams)
	})

	t.Run("default limit", func(t *testing.T) {
		s, _, srch, _ := newTestServer(t, "/docs")
		_, err := s.handleSearchDocuments(context.Background(), callRequest(map[string]interface{}{"query": "tax"}))
		require.NoError(t, err)
		assert.Equal(t, searcher.DefaultLimit, srch.last.Limit)
	})

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"empty query", searcher.ErrEmptyQuery, ErrorCodeEmptyQuery},
		{"dimension mismatch", fmt.Errorf("%w: got 3", searcher.ErrDimensionMismatch), ErrorCodeIndexIncompatible},
		{"pinned settings differ", fmt.Errorf("%w: metric", storage.ErrSchemaMismatch), ErrorCodeIndexIncompatible},
		{"backend failure", errors.New("embedder offline"), ErrorCodeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _, srch, _ := newTestServer(t, "/docs")
			srch.err = tc.err
			_, err := s.handleSearchDocuments(context.Background(), callRequest(map[string]interface{}{"query": " "}))
			requireCode(t, err, tc.code)
		})
	}

	t.Run("invalid arguments", func(t *testing.T) {
		s, _, _, _ := newTestServer(t, "/docs")
		var req mcp.CallToolRequest
		req.Params.Arguments = []string{"tax"}
		_, err := s.handleSearchDocuments(context.Background(), req)
		requireCode(t, err, ErrorCodeInvalidParams)
	})
}

func TestGetStatus(t *testing.T) {
	s, idx, _, st := newTestServer(t, "/docs")
	idx.busy = true
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	st.status.Settings = &storage.IndexSettings{Model: "nomic-embed-text", Dimension: 768, Metric: types.MetricL2}
	st.status.LastRun = &storage.SyncRun{
		ID: "run-1", Root: "/docs", Status: storage.RunCompleted,
		StartedAt: started, FinishedAt: started.Add(time.Minute), FilesIndexed: 2,
	}

	result, err := s.handleGetStatus(context.Background(), callRequest(nil))
	require.NoError(t, err)
	out := decode(t, result)

	assert.Equal(t, "/docs", out["root"])
	assert.Equal(t, true, out["sync_running"])
	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, float64(4), stats["records"])
	assert.Equal(t, float64(1), stats["pending"])
	index := out["index"].(map[string]interface{})
	assert.Equal(t, "l2", index["metric"])
	last := out["last_sync"].(map[string]interface{})
	assert.Equal(t, storage.RunCompleted, last["status"])
	assert.Equal(t, "2024-03-01T10:01:00Z", last["finished_at"])
	assert.NotContains(t, last, "error")
}

func TestGetStatus_EmptyIndex(t *testing.T) {
	s, _, _, st := newTestServer(t, "/docs")
	st.status = &storage.Status{}
	result, err := s.handleGetStatus(context.Background(), callRequest(nil))
	require.NoError(t, err)
	out := decode(t, result)
	assert.NotContains(t, out, "index")
	assert.NotContains(t, out, "last_sync")

	st.err = errors.New("database is locked")
	_, err = s.handleGetStatus(context.Background(), callRequest(nil))
	requireCode(t, err, ErrorCodeInternalError)
}

func TestNewServer_RegistersTools(t *testing.T) {
	s, _, _, _ := newTestServer(t, "/docs")
	tools := s.mcp.ListTools()
	for _, name := range []string{"sync_documents", "search_documents", "get_status"} {
		assert.Contains(t, tools, name)
	}
}

func TestSyncDocuments_RealRootCheck(t *testing.T) {
	// Symlinked spellings of the root are not treated as the same root.
	root := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(root, link); err != nil {
		t.Skip("symlinks unsupported")
	}
	s, _, _, _ := newTestServer(t, root)
	_, err := s.handleSyncDocuments(context.Background(), callRequest(map[string]interface{}{"path": link}))
	requireCode(t, err, ErrorCodeInvalidParams)
}
