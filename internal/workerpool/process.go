package workerpool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

// ProcessConfig describes how to start extraction workers.
type ProcessConfig struct {
	Command string   // Executable; defaults to the running binary
	Args    []string // Arguments selecting worker mode, e.g. ["extract-worker"]
	Env     []string // Full child environment; nil inherits the parent's
	Workers int
	Stderr  io.Writer // Child diagnostics; defaults to os.Stderr
	Logger  *slog.Logger
}

// ProcessPool runs each worker as a child process.
type ProcessPool struct {
	cfg    ProcessConfig
	logger *slog.Logger
	closed atomic.Bool

	mu      sync.Mutex
	live    map[*worker]struct{}
	spawned atomic.Int64
}

// NewProcessPool creates a pool. No process is started until Run.
func NewProcessPool(cfg ProcessConfig) (*ProcessPool, error) {
	if cfg.Command == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
		cfg.Command = exe
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessPool{
		cfg:    cfg,
		logger: logger,
		live:   make(map[*worker]struct{}),
	}, nil
}

// Run starts up to Workers children, feeds them the tasks and stops them
// once the batch is done. A child that dies is replaced for the remaining
// tasks; only its in-flight file fails.
func (p *ProcessPool) Run(ctx context.Context, tasks []Task) []Result {
	if p.closed.Load() {
		return failAll(tasks, ErrPoolClosed)
	}
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range tasks {
			select {
			case jobs <- i:
			case <-gctx.Done():
				for j := i; j < len(tasks); j++ {
					results[j] = Result{Task: tasks[j], Err: gctx.Err()}
				}
				return nil
			}
		}
		return nil
	})

	for n := workerCount(p.cfg.Workers, len(tasks)); n > 0; n-- {
		g.Go(func() error {
			var w *worker
			defer func() {
				if w != nil {
					p.stop(w)
				}
			}()

			for i := range jobs {
				task := tasks[i]
				results[i].Task = task

				if w == nil {
					var err error
					if w, err = p.spawn(ctx); err != nil {
						results[i].Err = err
						continue
					}
				}

				units, err := w.extract(task)
				if errors.Is(err, ErrTaskFailed) {
					results[i].Err = err
					continue
				}
				if err != nil {
					p.logger.Warn("extraction worker failed", "path", task.Path, "pid", w.pid(), "error", err)
					results[i].Err = err
					p.kill(w)
					w = nil
					continue
				}
				results[i].Units = units
			}
			return nil
		})
	}

	_ = g.Wait()
	p.logger.Debug("extraction batch done", "tasks", len(tasks), "workers_started", p.spawned.Load())
	return results
}

// Close kills any worker still running and rejects further batches.
func (p *ProcessPool) Close() error {
	p.closed.Store(true)
	p.mu.Lock()
	workers := make([]*worker, 0, len(p.live))
	for w := range p.live {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		p.kill(w)
	}
	return nil
}

// worker is one child process and its pipes.
type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	in     *bufio.Writer
}

func (p *ProcessPool) spawn(ctx context.Context) (*worker, error) {
	cmd := exec.CommandContext(ctx, p.cfg.Command, p.cfg.Args...)
	cmd.Env = p.cfg.Env
	cmd.Stderr = p.cfg.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	w := &worker{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		in:     bufio.NewWriter(stdin),
	}
	p.mu.Lock()
	p.live[w] = struct{}{}
	p.mu.Unlock()
	p.spawned.Add(1)
	p.logger.Debug("extraction worker started", "pid", w.pid())
	return w, nil
}

func (w *worker) pid() int {
	if w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

func (w *worker) extract(task Task) ([]types.Unit, error) {
	if err := writeFrame(w.in, Request{Path: task.Path, FileType: task.FileType}); err != nil {
		return nil, fmt.Errorf("%w: send request: %v", ErrWorkerCrashed, err)
	}
	if err := w.in.Flush(); err != nil {
		return nil, fmt.Errorf("%w: send request: %v", ErrWorkerCrashed, err)
	}

	var resp Response
	if err := readFrame(w.stdout, &resp); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: worker exited", ErrWorkerCrashed)
		}
		return nil, fmt.Errorf("%w: %v", ErrWorkerCrashed, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrTaskFailed, resp.Error)
	}
	return resp.Units, nil
}

// stop asks the worker to exit by closing its input.
func (p *ProcessPool) stop(w *worker) {
	if !p.forget(w) {
		return
	}
	_ = w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		p.logger.Debug("extraction worker exited", "pid", w.pid(), "error", err)
	}
}

func (p *ProcessPool) kill(w *worker) {
	if !p.forget(w) {
		return
	}
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}

// forget removes w from the live set and reports whether it was present.
func (p *ProcessPool) forget(w *worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[w]; !ok {
		return false
	}
	delete(p.live, w)
	return true
}
