package queue

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/joseph-ayodele/invoice-pipeline/internal/pipeline"
)

// Processor runs one job's pipeline. Satisfied by *pipeline.Orchestrator.
type Processor interface {
	ProcessJob(ctx context.Context, jobID, sessionID string) (pipeline.Result, error)
}

// WorkerQueue runs the pipeline on a bounded in-process worker pool.
// Each worker processes one job end-to-end; there is no intra-job
// parallelism.
type WorkerQueue struct {
	orch    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*WorkerQueue)

func WithWorkers(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *WorkerQueue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *WorkerQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewWorkerQueue(orch Processor, logger *slog.Logger, opts ...Option) *WorkerQueue {
	q := &WorkerQueue{
		orch:    orch,
		logger:  logger,
		workers: 4,
		timeout: 6 * time.Minute,
		ch:      make(chan Task, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *WorkerQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker_started", "worker_id", workerID)

				for task := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					res, err := q.orch.ProcessJob(ctx, task.JobID, task.SessionID)
					cancel()

					switch {
					case err != nil:
						q.logger.Error("queue.process_error", "worker_id", workerID, "job_id", task.JobID, "error", err)
					case !res.OK:
						q.logger.Warn("queue.process_failed", "worker_id", workerID, "job_id", task.JobID, "reason", res.Error)
					default:
						q.logger.Info("queue.processed", "worker_id", workerID, "job_id", task.JobID, "status", res.Status)
					}
				}

				q.logger.Info("queue.worker_stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *WorkerQueue) Enqueue(_ context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("queue.enqueue_after_shutdown", "job_id", task.JobID)
		return nil
	}
	select {
	case q.ch <- task:
		q.logger.Info("queue.enqueued", "job_id", task.JobID)
	default:
		q.logger.Warn("queue.full_backpressure", "job_id", task.JobID)
		q.ch <- task
	}
	return nil
}

// Shutdown closes intake and drains in-flight work until ctx expires.
func (q *WorkerQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown_interrupted")
	case <-done:
		q.logger.Info("queue.drained")
	}
}
