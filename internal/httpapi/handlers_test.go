package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ankur0405/personal-documents-handler/internal/indexer"
	"github.com/ankur0405/personal-documents-handler/internal/searcher"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

type mockIndexer struct {
	mu     sync.Mutex
	busy   bool
	err    error
	result *indexer.SyncResult
	calls  int
	block  chan struct{}
}

func (m *mockIndexer) Sync(ctx context.Context, root string) (*indexer.SyncResult, error) {
	m.mu.Lock()
	m.calls++
	m.busy = m.block != nil
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockIndexer) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

type mockSearcher struct {
	resp        *searcher.SearchResponse
	err         error
	last        searcher.SearchRequest
	invalidated int
}

func (m *mockSearcher) Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	if req.Query == "" || req.Query == " " {
		return nil, searcher.ErrEmptyQuery
	}
	return m.resp, nil
}

func (m *mockSearcher) Invalidate() { m.invalidated++ }

type mockStatus struct {
	status *storage.Status
	err    error
}

func (m *mockStatus) Status(ctx context.Context) (*storage.Status, error) {
	return m.status, m.err
}

type fixture struct {
	srv      *Server
	indexer  *mockIndexer
	searcher *mockSearcher
	status   *mockStatus
}

func newFixture() *fixture {
	f := &fixture{
		indexer: &mockIndexer{result: &indexer.SyncResult{
			RunID: "run-1", Root: "/docs", ChunksWritten: 5, FilesIndexed: 2, Duration: 2 * time.Second,
		}},
		searcher: &mockSearcher{resp: &searcher.SearchResponse{
			Results: []types.SearchHit{
				{ID: "a_p1_0", Filename: "a.pdf", FilePath: "/docs/a.pdf", PageNumber: 1, Content: "insurance", Score: 0.8},
			},
		}},
		status: &mockStatus{status: &storage.Status{Records: 10, Files: 3, Embedded: 9, Pending: 1}},
	}
	f.srv = New(Deps{Indexer: f.indexer, Searcher: f.searcher, Store: f.status, Root: "/docs"})
	return f
}

func (f *fixture) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeJSON(t, rec)["status"])
}

func TestSearch(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/search?q=insurance&limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, searcher.SearchRequest{Query: "insurance", Limit: 3}, f.searcher.last)

	out := decodeJSON(t, rec)
	assert.Equal(t, float64(1), out["total"])
	results := out["results"].([]any)
	hit := results[0].(map[string]any)
	assert.Equal(t, "a.pdf", hit["filename"])
	assert.Equal(t, float64(1), hit["page_number"])
}

func TestSearch_DefaultLimitAndEmptyResults(t *testing.T) {
	f := newFixture()
	f.searcher.resp = &searcher.SearchResponse{}
	rec := f.do(http.MethodGet, "/api/search?q=nothing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, searcher.DefaultLimit, f.searcher.last.Limit)
	assert.Equal(t, []any{}, decodeJSON(t, rec)["results"])
}

func TestSearch_Msgpack(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/search?q=insurance", map[string]string{echo.HeaderAccept: MIMEMsgpack})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEMsgpack, rec.Header().Get(echo.HeaderContentType))

	var out map[string]any
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "insurance", out["query"])
	assert.Contains(t, out, "results")
}

func TestSearch_Errors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		code   int
	}{
		{"missing query", "/api/search", nil, http.StatusBadRequest},
		{"bad limit", "/api/search?q=x&limit=abc", nil, http.StatusBadRequest},
		{"limit too large", "/api/search?q=x&limit=1000", nil, http.StatusBadRequest},
		{"dimension mismatch", "/api/search?q=x", fmt.Errorf("%w: got 3", searcher.ErrDimensionMismatch), http.StatusPreconditionFailed},
		{"pinned settings differ", "/api/search?q=x", fmt.Errorf("%w: metric", storage.ErrSchemaMismatch), http.StatusPreconditionFailed},
		{"backend failure", "/api/search?q=x", errors.New("embedder offline"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.searcher.err = tc.err
			rec := f.do(http.MethodGet, tc.target, nil)
			assert.Equal(t, tc.code, rec.Code)
			assert.NotEmpty(t, decodeJSON(t, rec)["error"])
		})
	}
}

func TestSync(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeJSON(t, rec)
	assert.Equal(t, float64(5), out["chunks_written"])
	assert.Equal(t, float64(2000), out["duration_ms"])
	assert.Equal(t, true, out["changed"])
	assert.NotContains(t, out, "errors")
	assert.Equal(t, 1, f.searcher.invalidated)
}

func TestSync_MethodNotAllowed(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/sync", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, f.indexer.calls)
}

func TestSync_Conflict(t *testing.T) {
	f := newFixture()
	f.indexer.block = make(chan struct{})

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- f.do(http.MethodPost, "/api/sync", nil) }()

	require.Eventually(t, f.indexer.Busy, time.Second, 5*time.Millisecond)
	rec := f.do(http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(f.indexer.block)
	first := <-done
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, f.indexer.calls)
}

func TestSync_Errors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{indexer.ErrSyncInProgress, http.StatusConflict},
		{fmt.Errorf("%w: /docs", indexer.ErrRootNotFound), http.StatusNotFound},
		{fmt.Errorf("settings: %w", storage.ErrSchemaMismatch), http.StatusPreconditionFailed},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			f := newFixture()
			f.indexer.err = tc.err
			rec := f.do(http.MethodPost, "/api/sync", nil)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, 1, f.searcher.invalidated)
		})
	}
}

func TestStatus(t *testing.T) {
	f := newFixture()
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	f.status.status.Settings = &storage.IndexSettings{Model: "nomic-embed-text", Dimension: 768, Metric: types.MetricCosine}
	f.status.status.LastRun = &storage.SyncRun{ID: "run-1", Status: storage.RunRunning, StartedAt: started}

	rec := f.do(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeJSON(t, rec)

	assert.Equal(t, "/docs", out["root"])
	assert.Equal(t, float64(10), out["records"])
	assert.Equal(t, "cosine", out["index"].(map[string]any)["metric"])
	last := out["last_sync"].(map[string]any)
	assert.Equal(t, "2024-05-01T08:00:00Z", last["started_at"])
	assert.NotContains(t, last, "finished_at")
}

func TestStatus_Error(t *testing.T) {
	f := newFixture()
	f.status.err = errors.New("database is locked")
	rec := f.do(http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRun_Shutdown(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.srv.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
