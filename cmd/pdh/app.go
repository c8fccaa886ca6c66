package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ankur0405/personal-documents-handler/internal/chunker"
	"github.com/ankur0405/personal-documents-handler/internal/config"
	"github.com/ankur0405/personal-documents-handler/internal/embedder"
	"github.com/ankur0405/personal-documents-handler/internal/extract"
	"github.com/ankur0405/personal-documents-handler/internal/indexer"
	"github.com/ankur0405/personal-documents-handler/internal/searcher"
	"github.com/ankur0405/personal-documents-handler/internal/storage"
	"github.com/ankur0405/personal-documents-handler/internal/workerpool"
)

// workerCommand is the hidden subcommand a process pool re-executes.
const workerCommand = "extract-worker"

// app holds the components shared by every command that touches the index.
// The embedder instance is shared by the indexer and the searcher.
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	logger   *slog.Logger
}

// loadConfig reads settings and applies flag overrides, then validates.
func loadConfig(rootArg string) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.Paths.DBPath = flagDB
	}
	if flagRoot != "" {
		cfg.Paths.Root = flagRoot
	}
	if rootArg != "" {
		cfg.Paths.Root = rootArg
	}
	if flagWorkers > 0 {
		cfg.Index.Workers = flagWorkers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Paths.Root = config.ExpandHome(cfg.Paths.Root)
	return cfg, nil
}

// openApp wires storage, embedder, chunker, extractor table and pools.
func openApp(rootArg string) (*app, error) {
	cfg, err := loadConfig(rootArg)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	table, err := extract.NewTable(cfg.Extensions)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.New(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Timeout:   cfg.Embedding.Timeout,
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	dbPath := cfg.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	idx := indexer.New(store, emb, ch, table, poolFactory(cfg, table, logger), indexer.Config{
		Workers:        cfg.Index.Workers,
		DeleteBatch:    cfg.Index.DeleteBatch,
		MaxFileSize:    cfg.Index.MaxFileSize,
		MtimeTolerance: cfg.Index.MtimeTolerance,
		EmbedTimeout:   cfg.Embedding.Timeout,
		Metric:         cfg.Metric(),
		Logger:         logger,
	})
	srch := searcher.NewSearcher(store, emb, searcher.Config{
		Dimension: cfg.Embedding.Dimension,
		Metric:    cfg.Metric(),
		Logger:    logger,
	})

	logger.Debug("index opened",
		"db", dbPath,
		"root", cfg.Paths.Root,
		"provider", emb.Provider(),
		"model", emb.Model(),
		"dimension", emb.Dimension(),
		"metric", cfg.Metric(),
		"isolation", cfg.Index.Isolation,
		"workers", cfg.Index.Workers,
		"build_mode", storage.BuildMode,
	)

	return &app{
		cfg:      cfg,
		store:    store,
		embedder: emb,
		indexer:  idx,
		searcher: srch,
		logger:   logger,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.embedder.Close(), a.store.Close())
}

// poolFactory returns a constructor for one batch's extraction pool.
func poolFactory(cfg *config.Config, table extract.Table, logger *slog.Logger) indexer.PoolFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Index.Isolation == config.IsolationInline {
		return func() (workerpool.Pool, error) {
			return workerpool.NewInlinePool(workerpool.InlineConfig{
				Workers: cfg.Index.Workers,
				NewExtractor: func() (workerpool.Extractor, func() error) {
					d := newDispatcher(cfg, table, logger)
					return d, d.Close
				},
				Logger: logger,
			}), nil
		}
	}

	args := []string{workerCommand}
	if flagConfig != "" {
		args = append(args, "--config", flagConfig)
	}
	if flagDebug {
		args = append(args, "--debug")
	}
	if flagLogJSON {
		args = append(args, "--log-json")
	}
	return func() (workerpool.Pool, error) {
		pool, err := workerpool.NewProcessPool(workerpool.ProcessConfig{
			Args:    args,
			Workers: cfg.Index.Workers,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
}

// newDispatcher builds the extractor one worker owns for its lifetime.
func newDispatcher(cfg *config.Config, table extract.Table, logger *slog.Logger) *extract.Dispatcher {
	ocr := extract.NewTesseractEngine(extract.TesseractConfig{
		Command:   cfg.OCR.Command,
		Languages: cfg.OCR.Languages,
		Timeout:   cfg.OCR.Timeout,
	})
	if !ocr.Available() {
		logger.Debug("tesseract not found; scanned images will yield no text")
	}
	renderer := extract.NewPdftoppmRenderer(extract.PdftoppmConfig{
		Command: cfg.OCR.RenderCommand,
		DPI:     cfg.OCR.RenderDPI,
		Timeout: cfg.OCR.Timeout,
	})
	if !renderer.Available() {
		logger.Debug("pdftoppm not found; pdf pages without a text layer will yield no text")
	}
	return extract.NewDispatcher(table, extract.Resources{
		OCR:        ocr,
		Renderer:   renderer,
		Classifier: extract.NewClassifier(),
		Logger:     logger,
	})
}
