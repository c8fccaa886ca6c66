package workerpool

import (
	"context"
	"errors"

	"github.com/ankur0405/personal-documents-handler/pkg/types"
)

var (
	// ErrWorkerCrashed is returned for a file whose worker exited or broke protocol
	ErrWorkerCrashed = errors.New("extraction worker crashed")
	// ErrPoolClosed is returned by Run after Close
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrTaskFailed wraps an extraction error reported by a worker process.
	// The worker itself stays usable.
	ErrTaskFailed = errors.New("worker reported extraction error")
)

// Task is one file to extract.
type Task struct {
	Path     string
	FileType string // Extension in either form; empty derives it from Path
}

// Result carries the units of one task. Results are returned in task order.
type Result struct {
	Task  Task
	Units []types.Unit
	Err   error
}

// Pool extracts batches of files in parallel.
type Pool interface {
	// Run extracts every task and returns one result per task, in order.
	// Failures are reported per result and never abort the batch.
	Run(ctx context.Context, tasks []Task) []Result
	Close() error
}

// Extractor is what a worker runs for each request. No units with a nil
// error is a clean, empty extraction.
type Extractor interface {
	ExtractAll(path, fileType string) ([]types.Unit, error)
}

func workerCount(workers, tasks int) int {
	if workers < 1 {
		workers = 1
	}
	if tasks < workers {
		return tasks
	}
	return workers
}

func failAll(tasks []Task, err error) []Result {
	results := make([]Result, len(tasks))
	for i, t := range tasks {
		results[i] = Result{Task: t, Err: err}
	}
	return results
}
