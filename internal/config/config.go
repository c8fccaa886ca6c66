// Package config loads and validates pdh settings.
//
// Settings come from a YAML file, then environment overrides, then command
// line flags. They are read once per process and validated eagerly: an
// invalid setting stops the process before any store is opened.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ankur0405/personal-documents-handler/internal/extract"
	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// Environment variables
const (
	EnvConfig            = "PDH_CONFIG"
	EnvDBPath            = "PDH_DB_PATH"
	EnvRoot              = "PDH_ROOT"
	EnvEmbeddingProvider = "PDH_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "PDH_EMBEDDING_MODEL"
	EnvOllamaHost        = "OLLAMA_HOST"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "pdh.yaml"

// Isolation modes for extraction workers
const (
	IsolationProcess = "process"
	IsolationInline  = "inline"
)

// maxAutoWorkers caps the worker count picked when workers is left at 0.
const maxAutoWorkers = 8

var (
	// ErrSettingsNotFound is returned when an explicitly requested settings file is missing
	ErrSettingsNotFound = errors.New("settings file not found")
	// ErrInvalidConfig is returned when a setting fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the full settings tree.
type Config struct {
	Paths      PathsConfig       `yaml:"paths"`
	Embedding  EmbeddingConfig   `yaml:"embedding"`
	Index      IndexConfig       `yaml:"index"`
	Extensions map[string]string `yaml:"supported_extensions"`
	OCR        OCRConfig         `yaml:"ocr"`
	Server     ServerConfig      `yaml:"server"`
}

// PathsConfig locates the document root and the index database.
type PathsConfig struct {
	Root   string `yaml:"root"`
	DBPath string `yaml:"db_path"`
}

// EmbeddingConfig selects the embedding model. Model and Dimension are
// recorded in the store on first use and must not change afterwards.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

// IndexConfig controls chunking, batching and change detection.
type IndexConfig struct {
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkOverlap   int           `yaml:"chunk_overlap"`
	Workers        int           `yaml:"workers"` // 0 picks a value from the CPU count
	Isolation      string        `yaml:"isolation"`
	Metric         string        `yaml:"metric"`
	MtimeTolerance time.Duration `yaml:"mtime_tolerance"`
	DeleteBatch    int           `yaml:"delete_batch"`
	MaxFileSize    int64         `yaml:"max_file_size"`
}

// OCRConfig configures the external OCR engine used for scanned images and
// the renderer that rasterizes PDF pages without a text layer.
type OCRConfig struct {
	Command       string        `yaml:"command"`
	Languages     string        `yaml:"languages"`
	Timeout       time.Duration `yaml:"timeout"`
	RenderCommand string        `yaml:"render_command"`
	RenderDPI     int           `yaml:"render_dpi"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			DBPath: filepath.Join("~", ".pdh", "index.db"),
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Dimension: 768,
			BaseURL:   "http://localhost:11434",
			Timeout:   2 * time.Minute,
			CacheSize: 10000,
		},
		Index: IndexConfig{
			ChunkSize:      1000,
			ChunkOverlap:   200,
			Workers:        0,
			Isolation:      IsolationProcess,
			Metric:         string(types.MetricL2),
			MtimeTolerance: time.Second,
			DeleteBatch:    50,
			MaxFileSize:    100 << 20,
		},
		Extensions: extract.DefaultExtensions(),
		OCR: OCRConfig{
			Command:       "tesseract",
			Languages:     "eng",
			Timeout:       time.Minute,
			RenderCommand: "pdftoppm",
			RenderDPI:     200,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8088",
		},
	}
}

// Load reads settings from path. An empty path falls back to $PDH_CONFIG and
// then to ./pdh.yaml; when neither is set and the default file is absent the
// built-in defaults are used. A path that was asked for explicitly must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultConfigFile
		explicit = false
	}

	b, err := os.ReadFile(ExpandHome(path))
	switch {
	case err == nil:
		// A file that lists extensions replaces the default table.
		cfg.Extensions = nil
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
		if cfg.Extensions == nil {
			cfg.Extensions = extract.DefaultExtensions()
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrSettingsNotFound, path)
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Paths.DBPath = v
	}
	if v := os.Getenv(EnvRoot); v != "" {
		c.Paths.Root = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv(EnvOllamaHost); v != "" && c.Embedding.Provider == "ollama" {
		c.Embedding.BaseURL = v
	}
}

// Validate checks every setting and resolves derived values. It must be
// called after flag overrides are applied.
func (c *Config) Validate() error {
	var errs []error

	if c.Index.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("index.chunk_size must be positive, got %d", c.Index.ChunkSize))
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, fmt.Errorf("index.chunk_overlap must be in [0, chunk_size), got %d", c.Index.ChunkOverlap))
	}
	if c.Index.Workers < 0 {
		errs = append(errs, fmt.Errorf("index.workers must not be negative, got %d", c.Index.Workers))
	}
	if c.Index.Workers == 0 {
		c.Index.Workers = AutoWorkers()
	}
	switch c.Index.Isolation {
	case IsolationProcess, IsolationInline:
	case "":
		c.Index.Isolation = IsolationProcess
	default:
		errs = append(errs, fmt.Errorf("index.isolation must be %q or %q, got %q", IsolationProcess, IsolationInline, c.Index.Isolation))
	}
	if _, err := types.ParseMetric(c.Index.Metric); err != nil {
		errs = append(errs, fmt.Errorf("index.metric: %w", err))
	}
	if c.Index.MtimeTolerance < time.Second {
		errs = append(errs, fmt.Errorf("index.mtime_tolerance must be at least 1s, got %s", c.Index.MtimeTolerance))
	}
	if c.Index.DeleteBatch <= 0 {
		errs = append(errs, fmt.Errorf("index.delete_batch must be positive, got %d", c.Index.DeleteBatch))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	}
	if c.Paths.DBPath == "" {
		errs = append(errs, errors.New("paths.db_path is required"))
	}
	if len(c.Extensions) == 0 {
		errs = append(errs, errors.New("supported_extensions must not be empty"))
	}
	if _, err := extract.NewTable(c.Extensions); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Metric returns the validated distance metric.
func (c *Config) Metric() types.Metric {
	m, _ := types.ParseMetric(c.Index.Metric)
	return m
}

// DBPath returns the database location with ~ expanded.
func (c *Config) DBPath() string {
	return ExpandHome(c.Paths.DBPath)
}

// AutoWorkers picks a worker count from the number of CPUs.
func AutoWorkers() int {
	n := runtime.NumCPU()
	if n > maxAutoWorkers {
		n = maxAutoWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
