package workerpool

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// InlineConfig configures an InlinePool.
type InlineConfig struct {
	Workers int
	// NewExtractor builds the extractor owned by one goroutine for one batch.
	// The returned close function releases its resources.
	NewExtractor func() (Extractor, func() error)
	Logger       *slog.Logger
}

// InlinePool extracts with goroutines inside the current process.
type InlinePool struct {
	cfg    InlineConfig
	logger *slog.Logger
	closed atomic.Bool
}

// NewInlinePool creates an in-process pool.
func NewInlinePool(cfg InlineConfig) *InlinePool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &InlinePool{cfg: cfg, logger: logger}
}

// Run extracts tasks on up to Workers goroutines, each with its own
// extractor.
func (p *InlinePool) Run(ctx context.Context, tasks []Task) []Result {
	if p.closed.Load() {
		return failAll(tasks, ErrPoolClosed)
	}
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	jobs := make(chan int, len(tasks))
	for i := range tasks {
		jobs <- i
	}
	close(jobs)

	var g errgroup.Group
	for n := workerCount(p.cfg.Workers, len(tasks)); n > 0; n-- {
		g.Go(func() error {
			ex, release := p.cfg.NewExtractor()
			defer func() {
				if err := release(); err != nil {
					p.logger.Warn("releasing extractor", "error", err)
				}
			}()

			for i := range jobs {
				results[i].Task = tasks[i]
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				results[i].Units, results[i].Err = ex.ExtractAll(tasks[i].Path, tasks[i].FileType)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Close rejects further batches.
func (p *InlinePool) Close() error {
	p.closed.Store(true)
	return nil
}
