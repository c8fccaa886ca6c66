// Package embedder turns chunk and query text into vectors.
//
// Providers:
//
//   - ollama: a local Ollama server, POST {base_url}/api/embed
//   - openai: the OpenAI embeddings API (OPENAI_API_KEY)
//   - jina: the Jina AI embeddings API (JINA_API_KEY)
//   - local: deterministic hash vectors for tests and offline runs
//
// Model and dimension come from configuration; a provider that answers with
// vectors of another length fails with ErrDimensionMismatch.
//
// # Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider:  "ollama",
//	    Model:     "nomic-embed-text",
//	    Dimension: 768,
//	    CacheSize: 10000,
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vectors, err := embedder.Vectors(ctx, emb, texts)
//
// GenerateBatch is one logical call per batch. HTTP providers split it into
// requests of at most MaxBatch texts, retry failed requests with exponential
// backoff, and keep an LRU cache keyed by TextKey(model, text) so
// repeated texts are not sent twice.
package embedder
