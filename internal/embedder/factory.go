package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment variables consulted when a key or host is not configured.
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
)

// Config holds embedder configuration. Zero values select provider defaults.
type Config struct {
	Provider  string
	Model     string
	Dimension int
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CacheSize int
	MaxBatch  int
	Retry     RetryConfig
}

type providerDefaults struct {
	model     string
	dimension int
	baseURL   string
	maxBatch  int
}

var defaults = map[string]providerDefaults{
	ProviderOllama: {model: DefaultOllamaModel, dimension: OllamaDimension, baseURL: "http://localhost:11434", maxBatch: 64},
	ProviderOpenAI: {model: DefaultOpenAIModel, dimension: OpenAIDimension, baseURL: "https://api.openai.com/v1", maxBatch: MaxBatchSize},
	ProviderJina:   {model: DefaultJinaModel, dimension: JinaDimension, baseURL: "https://api.jina.ai/v1", maxBatch: MaxBatchSize},
	ProviderLocal:  {model: DefaultLocalModel, dimension: LocalDimension},
}

// withDefaults fills unset fields from the provider's defaults.
func (c Config) withDefaults() (Config, error) {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	d, ok := defaults[c.Provider]
	if !ok {
		return c, fmt.Errorf("%w: unknown provider %q", ErrUnsupportedModel, c.Provider)
	}
	if c.Model == "" {
		c.Model = d.model
	}
	if c.Dimension <= 0 {
		c.Dimension = d.dimension
	}
	if c.BaseURL == "" {
		c.BaseURL = d.baseURL
		if c.Provider == ProviderOllama {
			if host := os.Getenv(EnvOllamaHost); host != "" {
				c.BaseURL = host
			}
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.MaxBatch <= 0 {
		c.MaxBatch = d.maxBatch
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry = DefaultRetryConfig()
	}
	return c, nil
}

// New creates an embedder with explicit configuration.
func New(cfg Config) (Embedder, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaProvider(cfg, cache)
	case ProviderJina:
		return NewJinaProvider(cfg, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, cache)
	default:
		return NewLocalProvider(cfg, cache)
	}
}
