package indexer

import (
	"fmt"
	"sync"
	"time"
)

// runLock admits one sync, scan or dedupe at a time per process. A caller
// that loses gets ErrSyncInProgress naming the running operation; it never
// queues behind it.
type runLock struct {
	mu    sync.Mutex
	held  bool
	op    string
	since time.Time
}

// acquire takes the lock for op or reports who holds it.
func (l *runLock) acquire(op string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return fmt.Errorf("%w: %s running since %s", ErrSyncInProgress, l.op, l.since.Format(time.TimeOnly))
	}
	l.held, l.op, l.since = true, op, now
	return nil
}

func (l *runLock) release() {
	l.mu.Lock()
	l.held, l.op = false, ""
	l.mu.Unlock()
}

func (l *runLock) busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
