package queue

import (
	"context"
	"time"
)

// Task identifies one job to process.
type Task struct {
	JobID       string
	SessionID   string
	SubmittedAt time.Time
}

// Queue hands jobs to the pipeline workers. Enqueue is fire-and-forget;
// duplicate deliveries are absorbed downstream by the lock protocol.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Shutdown(ctx context.Context)
}
