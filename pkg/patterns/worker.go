package patterns

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/streampatterns/streampatterns/pkg/store"
)

// WorkerStatus is a worker's lifecycle state for health reporting.
type WorkerStatus string

const (
	// WorkerStatusIdle means the worker is sleeping between polls.
	WorkerStatusIdle WorkerStatus = "idle"
	// WorkerStatusWorking means the worker is inside a poll iteration.
	WorkerStatusWorking WorkerStatus = "working"
	// WorkerStatusStopped means the worker has exited its loop.
	WorkerStatusStopped WorkerStatus = "stopped"
)

// WorkerHealth is a point-in-time snapshot of one worker.
type WorkerHealth struct {
	ID           string       `json:"id"`
	Status       WorkerStatus `json:"status"`
	LastActivity time.Time    `json:"lastActivity"`
}

// pollFunc is one polling iteration. Errors are logged and backed off,
// never fatal: the loop only exits on stop or context cancellation.
type pollFunc func(ctx context.Context) error

const (
	workerBackoffBase = 100 * time.Millisecond
	workerBackoffMax  = 5 * time.Second
)

// worker runs a poll function on an interval until stopped. Each engine
// wraps one or more workers around its own iteration logic.
type worker struct {
	id       string
	interval time.Duration
	jitter   time.Duration
	poll     pollFunc
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.RWMutex
	status       WorkerStatus
	lastActivity time.Time
}

func newWorker(id string, interval, jitter time.Duration, poll pollFunc) *worker {
	return &worker{
		id:       id,
		interval: interval,
		jitter:   jitter,
		poll:     poll,
		logger:   slog.With("worker_id", id),
		stopCh:   make(chan struct{}),
		status:   WorkerStatusIdle,
	}
}

// Start launches the worker goroutine.
func (w *worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("Worker started", "poll_interval", w.interval)
}

// Stop signals the worker and waits for the current iteration to finish.
// Safe to call more than once.
func (w *worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns a snapshot of the worker's state.
func (w *worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:           w.id,
		Status:       w.status,
		LastActivity: w.lastActivity,
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()
	defer w.setStatus(WorkerStatusStopped)

	backoff := workerBackoffBase
	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Worker context cancelled")
			return
		default:
		}

		w.setStatus(WorkerStatusWorking)
		err := w.poll(ctx)
		w.setStatus(WorkerStatusIdle)

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			level := slog.LevelWarn
			if store.IsConnectivity(err) || store.IsTimeout(err) {
				// Expected while the store restarts; keep polling.
				level = slog.LevelInfo
			}
			w.logger.Log(ctx, level, "Poll iteration failed", "error", err, "retry_in", backoff)
			if !w.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, workerBackoffMax)
			continue
		}

		backoff = workerBackoffBase
		if !w.sleep(w.pollInterval()) {
			return
		}
	}
}

// pollInterval returns the base interval spread by the configured jitter
// so sibling workers do not poll in lockstep.
func (w *worker) pollInterval() time.Duration {
	if w.jitter <= 0 {
		return w.interval
	}
	return w.interval - w.jitter + time.Duration(rand.Int64N(int64(2*w.jitter)))
}

// sleep waits for d unless the worker is stopped first. Returns false
// when the stop signal interrupted the wait.
func (w *worker) sleep(d time.Duration) bool {
	select {
	case <-w.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.lastActivity = time.Now()
}
