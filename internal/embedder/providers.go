package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"

	"github.com/zeebo/xxh3"
)

// Provider configuration
const (
	ProviderOllama = "ollama"
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultOllamaModel = "nomic-embed-text"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hash"

	// Dimensions
	OllamaDimension = 768
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// MaxBatchSize is the per-request limit of the hosted APIs.
	MaxBatchSize = 100

	DefaultCacheSize = 10000

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// wireFormat encodes a request body and decodes the vectors of a response
// for one HTTP embedding API.
type wireFormat struct {
	path   string
	encode func(model string, texts []string) any
	decode func(r io.Reader) ([][]float32, error)
}

// openAIWire is shared by OpenAI and Jina, which speak the same schema.
var openAIWire = wireFormat{
	path: "/embeddings",
	encode: func(model string, texts []string) any {
		return map[string]any{"input": texts, "model": model}
	},
	decode: func(r io.Reader) ([][]float32, error) {
		var resp struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r).Decode(&resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		out := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			idx := d.Index
			if idx < 0 || idx >= len(out) || out[idx] != nil {
				idx = i
			}
			out[idx] = d.Embedding
		}
		return out, nil
	},
}

var ollamaWire = wireFormat{
	path: "/api/embed",
	encode: func(model string, texts []string) any {
		return map[string]any{"model": model, "input": texts}
	},
	decode: func(r io.Reader) ([][]float32, error) {
		var resp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.NewDecoder(r).Decode(&resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return resp.Embeddings, nil
	},
}

// HTTPProvider implements Embedder over a JSON embedding API.
type HTTPProvider struct {
	provider   string
	model      string
	dimension  int
	endpoint   string
	apiKey     string
	maxBatch   int
	retry      RetryConfig
	wire       wireFormat
	httpClient *http.Client
	cache      *Cache
}

func newHTTPProvider(provider string, cfg Config, wire wireFormat, cache *Cache) (*HTTPProvider, error) {
	cfg.Provider = provider
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &HTTPProvider{
		provider:   provider,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		endpoint:   cfg.BaseURL + wire.path,
		apiKey:     cfg.APIKey,
		maxBatch:   cfg.MaxBatch,
		retry:      cfg.Retry,
		wire:       wire,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
	}, nil
}

// NewOllamaProvider creates an embedder for a local Ollama server.
func NewOllamaProvider(cfg Config, cache *Cache) (*HTTPProvider, error) {
	return newHTTPProvider(ProviderOllama, cfg, ollamaWire, cache)
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(cfg Config, cache *Cache) (*HTTPProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	return newHTTPProvider(ProviderJina, cfg, openAIWire, cache)
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg Config, cache *Cache) (*HTTPProvider, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	return newHTTPProvider(ProviderOpenAI, cfg, openAIWire, cache)
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := checkTexts(req.Text); err != nil {
		return nil, err
	}
	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch serves cached texts from the cache and sends the rest in
// requests of at most maxBatch texts.
func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts...); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	hashes := make([]string, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		hashes[i] = TextKey(p.model, text)
		if p.cache != nil {
			if v, ok := p.cache.Get(hashes[i]); ok {
				embeddings[i] = p.embedding(v, hashes[i])
				continue
			}
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += p.maxBatch {
		end := min(start+p.maxBatch, len(missing))
		idx := missing[start:end]
		texts := make([]string, len(idx))
		for k, i := range idx {
			texts[k] = req.Texts[i]
		}

		vectors, attempts, err := retryWithBackoff(ctx, p.retry, retryable, func() ([][]float32, error) {
			return p.callAPI(ctx, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrProviderFailed, attempts, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(vectors))
		}

		for k, i := range idx {
			if len(vectors[k]) != p.dimension {
				return nil, fmt.Errorf("%w: %s returned %d, want %d", ErrDimensionMismatch, p.model, len(vectors[k]), p.dimension)
			}
			embeddings[i] = p.embedding(vectors[k], hashes[i])
			if p.cache != nil {
				p.cache.Set(hashes[i], vectors[k])
			}
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.provider,
		Model:      p.model,
	}, nil
}

func (p *HTTPProvider) embedding(v []float32, hash string) *Embedding {
	return &Embedding{
		Vector:    v,
		Dimension: p.dimension,
		Provider:  p.provider,
		Model:     p.model,
		Hash:      hash,
	}
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(p.wire.encode(p.model, texts))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Provider: p.provider, Code: resp.StatusCode, Body: string(bodyBytes)}
	}
	return p.wire.decode(resp.Body)
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Provider() string {
	return p.provider
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider derives deterministic unit vectors from text hashes. It
// needs no model server and is meant for tests and offline smoke runs;
// similarity between vectors carries no meaning.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local hash embedder.
func NewLocalProvider(cfg Config, cache *Cache) (*LocalProvider, error) {
	cfg.Provider = ProviderLocal
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &LocalProvider{
		model:     cfg.Model,
		dimension: cfg.Dimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := checkTexts(req.Text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := TextKey(l.model, req.Text)
	emb := &Embedding{
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}
	if l.cache != nil {
		if v, ok := l.cache.Get(hash); ok {
			emb.Vector = v
			return emb, nil
		}
	}
	emb.Vector = HashVector(req.Text, l.dimension)
	if l.cache != nil {
		l.cache.Set(hash, emb.Vector)
	}
	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts...); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// HashVector spreads seeded xxh3 hashes of text over dim components in
// [-1, 1) and normalizes the result.
func HashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		h := xxh3.HashStringSeed(text, uint64(i))
		v[i] = float32(h>>40)/float32(1<<23) - 1
	}
	return NormalizeVector(v)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
