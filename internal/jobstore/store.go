package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/docstore"
)

const collection = "jobs"

// MaxErrorLen bounds the persisted error message.
const MaxErrorLen = 2000

// Store persists jobs and implements the processing-lock protocol on top
// of the transactional document store.
type Store struct {
	docs       docstore.Store
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewStore(docs docstore.Store, staleAfter time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Store{docs: docs, staleAfter: staleAfter, logger: logger, now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Now reads the store's clock so callers stamp documents consistently
// with the lock protocol.
func (s *Store) Now() time.Time { return s.now().UTC() }

func (s *Store) Create(ctx context.Context, job *Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.docs.Put(ctx, collection, job.ID, b)
}

// Get returns the job, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	b, err := s.docs.Get(ctx, collection, id)
	if err != nil || b == nil {
		return nil, err
	}
	return decode(b)
}

// AcquireLock attempts to claim the job for workerID in one atomic
// read-modify-write transaction. It returns the merged job on success and
// (nil, nil) when the lock was not acquired: contention or an invalid
// prior status is an idempotent no-op for the caller, not an error.
//
// A fresh claim is allowed from uploaded/queued/failed. A processing job
// may be taken over only once its existing lock is older than the
// configured stale threshold.
func (s *Store) AcquireLock(ctx context.Context, id, workerID string) (*Job, error) {
	var acquired *Job
	_, err := s.docs.Update(ctx, collection, id, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		job, err := decode(cur)
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()

		var canTake bool
		switch {
		case job.Status.Lockable():
			canTake = true
		case isActive(job.Status):
			// stale-lock takeover: only claim when the holder has been
			// silent past the threshold
			canTake = job.Lock == nil || now.Sub(job.Lock.AcquiredAt) > s.staleAfter
		}
		if !canTake {
			return nil, nil
		}

		job.Status = constants.JobStatusProcessing
		job.Lock = &Lock{OwnerID: workerID, AcquiredAt: now}
		job.Attempt++
		job.touch(constants.StageProcessing, now)
		acquired = job
		return json.Marshal(job)
	})
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", id, err)
	}
	if acquired == nil {
		s.logger.Info("jobstore.lock.not_acquired", "job_id", id, "worker_id", workerID)
	}
	return acquired, nil
}

// ReleaseLock unconditionally clears the lock field. Status is untouched;
// it is called on every pipeline exit path, including after terminal
// updates that already cleared the lock.
func (s *Store) ReleaseLock(ctx context.Context, id string) error {
	_, err := s.docs.Update(ctx, collection, id, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		job, err := decode(cur)
		if err != nil {
			return nil, err
		}
		if job.Lock == nil {
			return nil, nil
		}
		job.Lock = nil
		job.UpdatedAt = s.now().UTC()
		return json.Marshal(job)
	})
	if err != nil {
		return fmt.Errorf("release lock %s: %w", id, err)
	}
	return nil
}

// SetStatus advances the job's status and appends the stage timestamp.
func (s *Store) SetStatus(ctx context.Context, id string, status constants.JobStatus, stage string) error {
	return s.mutate(ctx, id, func(job *Job) {
		job.Status = status
		job.touch(stage, s.now().UTC())
	})
}

// Heartbeat refreshes the diagnostic heartbeat stage timestamp. The lock
// protocol never consults it.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(job *Job) {
		job.touch(constants.StageHeartbeat, s.now().UTC())
	})
}

// SetResult persists the extraction result plus confidence, transitions
// the job to done, and clears the lock in the same update.
func (s *Store) SetResult(ctx context.Context, id string, result json.RawMessage, confidence float64) error {
	return s.mutate(ctx, id, func(job *Job) {
		job.Result = result
		job.Confidence = &confidence
		job.Status = constants.JobStatusDone
		job.Lock = nil
		job.touch(constants.StageDone, s.now().UTC())
	})
}

// SetError marks the job failed with a bounded message and clears the lock.
// Truncation backs up to a rune boundary so the stored message stays
// valid UTF-8.
func (s *Store) SetError(ctx context.Context, id, message string) error {
	if len(message) > MaxErrorLen {
		cut := MaxErrorLen
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}
	return s.mutate(ctx, id, func(job *Job) {
		job.Status = constants.JobStatusFailed
		job.Error = message
		job.Lock = nil
		job.touch(constants.StageFailed, s.now().UTC())
	})
}

// SetOCRMethod records which extraction tier produced the text.
func (s *Store) SetOCRMethod(ctx context.Context, id, method string) error {
	return s.mutate(ctx, id, func(job *Job) {
		job.OCRMethod = method
		job.UpdatedAt = s.now().UTC()
	})
}

// IncrementManualRetries bumps the explicit-retry counter.
func (s *Store) IncrementManualRetries(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(job *Job) {
		job.ManualRetries++
		job.UpdatedAt = s.now().UTC()
	})
}

// ListBySession returns the session's jobs ordered by creation time.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]*Job, error) {
	all, err := s.docs.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []*Job
	for _, b := range all {
		job, err := decode(b)
		if err != nil {
			continue
		}
		if job.SessionID == sessionID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListOlderThan returns jobs created before cutoff; the retention sweep
// deletes them together with their source blobs.
func (s *Store) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	all, err := s.docs.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out []*Job
	for _, b := range all {
		job, err := decode(b)
		if err != nil {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.docs.Delete(ctx, collection, id)
}

// mutate applies fn to an existing job inside one transaction. Missing
// jobs are a silent no-op, matching the merge-write semantics the
// pipeline expects on its best-effort paths.
func (s *Store) mutate(ctx context.Context, id string, fn func(*Job)) error {
	_, err := s.docs.Update(ctx, collection, id, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, nil
		}
		job, err := decode(cur)
		if err != nil {
			return nil, err
		}
		fn(job)
		return json.Marshal(job)
	})
	return err
}

func decode(b []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func isActive(s constants.JobStatus) bool {
	return s == constants.JobStatusProcessing || s == constants.JobStatusExtracting || s == constants.JobStatusLLM
}
