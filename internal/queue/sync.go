package queue

import (
	"context"
	"log/slog"
)

// SyncQueue is the local fallback mode: it runs the pipeline inline on
// the caller's goroutine instead of queuing.
type SyncQueue struct {
	orch   Processor
	logger *slog.Logger
}

func NewSyncQueue(orch Processor, logger *slog.Logger) *SyncQueue {
	return &SyncQueue{orch: orch, logger: logger}
}

func (q *SyncQueue) Enqueue(ctx context.Context, task Task) error {
	res, err := q.orch.ProcessJob(ctx, task.JobID, task.SessionID)
	if err != nil {
		q.logger.Error("queue.sync_process_error", "job_id", task.JobID, "error", err)
		return err
	}
	if !res.OK {
		q.logger.Warn("queue.sync_process_failed", "job_id", task.JobID, "reason", res.Error)
	}
	return nil
}

func (q *SyncQueue) Shutdown(context.Context) {}
