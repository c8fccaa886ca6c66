package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ankur0405/personal-documents-handler/internal/embedder"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// Limits applied to SearchRequest.Limit
const (
	DefaultLimit = 5
	MaxLimit     = 100
)

const (
	defaultCacheSize = 1000
	defaultCacheTTL  = 10 * time.Minute
)

var (
	// ErrEmptyQuery is returned for a blank query
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrDimensionMismatch is returned when the query vector does not match
	// the index. It means the configured model is not the one the index was
	// built with.
	ErrDimensionMismatch = errors.New("query embedding dimension does not match index")
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query string
	Limit int
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results  []types.SearchHit `json:"results"`
	Duration time.Duration     `json:"duration"`
	CacheHit bool              `json:"cache_hit"`
}

// Config configures a Searcher.
type Config struct {
	Model     string       // Model the index was built with; "" trusts the embedder
	Dimension int          // Index dimension; 0 trusts the embedder
	Metric    types.Metric // Must match the metric the index was built with
	CacheSize int
	CacheTTL  time.Duration
	Logger    *slog.Logger
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
	gen       storage.Generation
}

// Searcher embeds queries and ranks stored chunks by similarity.
type Searcher struct {
	store    storage.Store
	embedder embedder.Embedder
	cfg      Config
	cache    *lru.Cache[[32]byte, *cacheEntry]
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.Mutex
	gen storage.Generation // store state the cached responses were computed at
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.Store, emb embedder.Embedder, cfg Config) *Searcher {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Metric == "" {
		cfg.Metric = types.MetricL2
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = emb.Dimension()
	}
	if cfg.Model == "" {
		cfg.Model = emb.Model()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		// only fails for non-positive sizes
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		store:    store,
		embedder: emb,
		cfg:      cfg,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// Search returns up to req.Limit chunks ordered by descending score.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := s.now()

	if err := normalize(&req); err != nil {
		return nil, err
	}

	gen, err := s.syncGeneration(ctx)
	if err != nil {
		return nil, err
	}
	key := cacheKey(req)
	if cached, ok := s.lookup(key, gen, start); ok {
		cached.Duration = s.now().Sub(start)
		return cached, nil
	}

	// Cached responses were computed under the same settings: any change to
	// them commits and moves the generation.
	err = s.store.CheckIndexSettings(ctx, storage.IndexSettings{
		Model:     s.cfg.Model,
		Dimension: s.cfg.Dimension,
		Metric:    s.cfg.Metric,
	})
	if err != nil {
		return nil, err
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	if len(emb.Vector) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(emb.Vector), s.cfg.Dimension)
	}

	hits, err := s.store.Search(ctx, emb.Vector, s.cfg.Metric, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	results := make([]types.SearchHit, len(hits))
	for i, h := range hits {
		results[i] = types.SearchHit{
			ID:         h.Record.ID,
			Filename:   h.Record.Filename,
			FilePath:   h.Record.FilePath,
			PageNumber: h.Record.PageNumber,
			Content:    h.Record.Content,
			Score:      s.cfg.Metric.Score(h.Distance),
			Distance:   h.Distance,
		}
	}
	// Scores are monotonic in distance; the stable sort only guards ties.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	resp := &SearchResponse{Results: results}
	resp.Duration = s.now().Sub(start)
	if len(results) > 0 {
		s.remember(key, resp, gen)
	}

	s.logger.Debug("search", "query_len", len(req.Query), "limit", req.Limit, "hits", len(results), "duration", resp.Duration)
	return resp, nil
}

// Invalidate drops every cached response. Search already notices commits
// made by other processes; callers that just wrote the index may still call
// it to release memory early.
func (s *Searcher) Invalidate() {
	s.cache.Purge()
}

// syncGeneration purges the cache when the store changed since the cached
// responses were computed.
func (s *Searcher) syncGeneration(ctx context.Context) (storage.Generation, error) {
	gen, err := s.store.Generation(ctx)
	if err != nil {
		return gen, fmt.Errorf("read index generation: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.cache.Purge()
		s.gen = gen
	}
	return gen, nil
}

// normalize trims the query and clamps the limit.
func normalize(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	return nil
}

func (s *Searcher) lookup(key [32]byte, gen storage.Generation, now time.Time) (*SearchResponse, bool) {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if entry.gen != gen || now.After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, false
	}
	resp := copySearchResponse(entry.response)
	resp.CacheHit = true
	return resp, true
}

func (s *Searcher) remember(key [32]byte, resp *SearchResponse, gen storage.Generation) {
	s.cache.Add(key, &cacheEntry{
		response:  copySearchResponse(resp),
		expiresAt: s.now().Add(s.cfg.CacheTTL),
		gen:       gen,
	})
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = append([]types.SearchHit(nil), src.Results...)
	return &dst
}

func cacheKey(req SearchRequest) [32]byte {
	return sha256.Sum256([]byte(req.Query + "|" + strconv.Itoa(req.Limit)))
}
