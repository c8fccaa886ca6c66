package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	// ErrDimensionMismatch is returned when a provider answers with vectors
	// of a different length than the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedding is one text's vector together with where it came from.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // TextKey of the embedded text
}

type EmbeddingRequest struct {
	Text string
}

type BatchEmbeddingRequest struct {
	Texts []string
}

// BatchEmbeddingResponse holds one embedding per requested text, in order.
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder turns chunk texts and queries into vectors of a fixed dimension.
// The indexer and the searcher share one instance so both sides of a search
// use the same model.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch embeds every text in one logical call. Providers split
	// the request internally when it exceeds their per-request limit.
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension is the length of every vector this embedder returns.
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Vectors embeds texts and returns bare vectors in input order. Every vector
// must have the embedder's dimension.
func Vectors(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrProviderFailed)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(texts), len(resp.Embeddings))
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: no embedding for text at index %d", ErrProviderFailed, i)
		}
		if len(emb.Vector) != e.Dimension() {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb.Vector), e.Dimension())
		}
		out[i] = emb.Vector
	}
	return out, nil
}

// Cache is an LRU of vectors keyed by TextKey. Vectors are copied in both
// directions so neither the provider nor its callers share backing arrays
// with the cache.
type Cache struct {
	lru          *lru.Cache[string, []float32]
	hits, misses atomic.Int64
}

// NewCache returns a cache holding at most size vectors. A non-positive
// size selects DefaultCacheSize.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[string, []float32](size)
	if err != nil {
		l, _ = lru.New[string, []float32](DefaultCacheSize)
	}
	return &Cache{lru: l}
}

func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return slices.Clone(v), true
}

func (c *Cache) Set(key string, v []float32) {
	c.lru.Add(key, slices.Clone(v))
}

func (c *Cache) Len() int { return c.lru.Len() }

// Stats reports lookups served and missed since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) Purge() { c.lru.Purge() }

// TextKey identifies text as embedded by model. Two models never share a key
// even when their dimensions match.
func TextKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// checkTexts rejects an empty request and any empty text within it; the
// providers answer an empty string with an error or a zero vector.
func checkTexts(texts ...string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d: %w", ErrInvalidInput, i, ErrEmptyText)
		}
	}
	return nil
}
