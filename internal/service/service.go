package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/blob"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/export"
	"github.com/joseph-ayodele/invoice-pipeline/internal/jobstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ratelimit"
)

// UploadFile is one file in an upload request.
type UploadFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// JobItem is the per-file summary returned after upload.
type JobItem struct {
	JobID     string              `json:"jobId"`
	Filename  string              `json:"filename"`
	Status    constants.JobStatus `json:"status"`
	SizeBytes int64               `json:"sizeBytes"`
	PageCount int                 `json:"pageCount"`
}

// PageCounter inspects an uploaded document and reports its page count.
// Implementations own the PDF decoding details.
type PageCounter interface {
	CountPages(data []byte) (int, error)
}

// RateLimitError carries the denial details so the transport layer can
// emit retry-after and quota headers. It is never persisted on a job.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s): retry after %ds", e.Decision.Reason, e.Decision.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return common.ErrRateLimited }

// JobService orchestrates job creation, retry, export, and session
// deletion around the pipeline.
type JobService struct {
	limits  common.LimitsConfig
	jobs    *jobstore.Store
	blobs   blob.Store
	limiter *ratelimit.Limiter
	queue   queue.Queue
	pages   PageCounter
	exports *export.Service
	logger  *slog.Logger
}

func NewJobService(limits common.LimitsConfig, jobs *jobstore.Store, blobs blob.Store, limiter *ratelimit.Limiter, q queue.Queue, pages PageCounter, exports *export.Service, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		limits:  limits,
		jobs:    jobs,
		blobs:   blobs,
		limiter: limiter,
		queue:   q,
		pages:   pages,
		exports: exports,
		logger:  logger,
	}
}

// CreateUploadJobs validates the batch, enforces upload quotas, stores
// each file, creates its job record, and enqueues it for processing.
func (s *JobService) CreateUploadJobs(ctx context.Context, sessionID string, files []UploadFile, clientIP string) ([]JobItem, error) {
	if sessionID == "" {
		return nil, common.NewAppError("MISSING_SESSION", "session id is required", common.ErrInvalidInput)
	}
	if len(files) == 0 {
		return nil, common.NewAppError("NO_FILES", "no files provided", common.ErrInvalidInput)
	}
	if len(files) > s.limits.MaxFiles {
		return nil, common.NewAppError("TOO_MANY_FILES", "too many files in one request", common.ErrRateLimited)
	}

	dec, err := s.limiter.EnforceUpload(ctx, sessionID, len(files), clientIP)
	if err != nil {
		return nil, common.NewAppError("RATE_LIMIT_CHECK", "quota check failed", common.ErrStorage)
	}
	if !dec.Allowed {
		return nil, &RateLimitError{Decision: dec}
	}

	items := make([]JobItem, 0, len(files))
	for _, f := range files {
		item, err := s.createJob(ctx, sessionID, f)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *JobService) createJob(ctx context.Context, sessionID string, f UploadFile) (JobItem, error) {
	if !acceptedMIME(f.ContentType) {
		return JobItem{}, common.NewAppError("BAD_MIME", "unsupported MIME type: "+f.ContentType, common.ErrInvalidInput)
	}
	if len(f.Data) == 0 {
		return JobItem{}, common.NewAppError("EMPTY_FILE", "file "+f.Filename+" is empty", common.ErrInvalidInput)
	}
	if int64(len(f.Data)) > int64(s.limits.MaxSizeMB)*1024*1024 {
		return JobItem{}, common.NewAppError("FILE_TOO_LARGE", "file "+f.Filename+" exceeds size limit", common.ErrPayloadTooLarge)
	}

	pageCount, err := s.pages.CountPages(f.Data)
	if err != nil {
		return JobItem{}, common.NewAppError("BAD_PDF", "file "+f.Filename+" is not a readable PDF", common.ErrInvalidInput)
	}
	if pageCount > s.limits.MaxPages {
		return JobItem{}, common.NewAppError("TOO_MANY_PAGES", "file "+f.Filename+" exceeds page limit", common.ErrInvalidInput)
	}

	jobID := uuid.New().String()
	blobPath := fmt.Sprintf("uploads/%s/%s.pdf", sessionID, jobID)
	if _, err := s.blobs.Put(ctx, blobPath, f.Data); err != nil {
		s.logger.Error("service.blob_upload_error", "session_id", sessionID, "filename", f.Filename, "error", err)
		return JobItem{}, common.NewAppError("UPLOAD_FAILED", "storage error while uploading file", common.ErrStorage)
	}

	job := jobstore.New(jobID, sessionID, f.Filename, blobPath, int64(len(f.Data)), pageCount, s.jobs.Now())
	if err := s.jobs.Create(ctx, job); err != nil {
		return JobItem{}, common.NewAppError("CREATE_FAILED", "storage error while creating job", common.ErrStorage)
	}

	if err := s.queue.Enqueue(ctx, queue.Task{JobID: jobID, SessionID: sessionID, SubmittedAt: s.jobs.Now()}); err != nil {
		s.logger.Error("service.enqueue_error", "job_id", jobID, "error", err)
		return JobItem{}, common.NewAppError("ENQUEUE_FAILED", "task queue error while enqueuing job", common.ErrStorage)
	}
	if err := s.jobs.SetStatus(ctx, jobID, constants.JobStatusQueued, constants.StageQueued); err != nil {
		s.logger.Warn("service.set_queued_error", "job_id", jobID, "error", err)
	}

	return JobItem{
		JobID:     jobID,
		Filename:  f.Filename,
		Status:    constants.JobStatusQueued,
		SizeBytes: int64(len(f.Data)),
		PageCount: pageCount,
	}, nil
}

// RetryJob re-enqueues a job after an explicit caller request. The
// original source document must still exist; otherwise the job can only
// be re-uploaded.
func (s *JobService) RetryJob(ctx context.Context, jobID, sessionID, clientIP string) error {
	dec, err := s.limiter.EnforceRetry(ctx, sessionID, clientIP)
	if err != nil {
		return common.NewAppError("RATE_LIMIT_CHECK", "quota check failed", common.ErrStorage)
	}
	if !dec.Allowed {
		return &RateLimitError{Decision: dec}
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return common.NewAppError("GET_FAILED", "storage error while loading job", common.ErrStorage)
	}
	if job == nil || job.SessionID != sessionID {
		return common.NewAppError("JOB_NOT_FOUND", "job not found", common.ErrNotFound)
	}

	exists := false
	if job.BlobPath != "" {
		exists, err = s.blobs.Exists(ctx, job.BlobPath)
		if err != nil {
			return common.NewAppError("BLOB_CHECK_FAILED", "storage error while checking source document", common.ErrStorage)
		}
	}
	if !exists {
		return common.NewAppError("SOURCE_GONE", "original document not available; re-upload required", common.ErrConflict)
	}

	if err := s.queue.Enqueue(ctx, queue.Task{JobID: jobID, SessionID: sessionID, SubmittedAt: s.jobs.Now()}); err != nil {
		return common.NewAppError("ENQUEUE_FAILED", "task queue error while enqueuing job", common.ErrStorage)
	}
	if err := s.jobs.SetStatus(ctx, jobID, constants.JobStatusQueued, constants.StageQueued); err != nil {
		s.logger.Warn("service.set_queued_error", "job_id", jobID, "error", err)
	}
	if err := s.jobs.IncrementManualRetries(ctx, jobID); err != nil {
		s.logger.Warn("service.manual_retries_error", "job_id", jobID, "error", err)
	}
	return nil
}

// GetJob returns a session-scoped job; a job owned by another session is
// reported as not found.
func (s *JobService) GetJob(ctx context.Context, jobID, sessionID string) (*jobstore.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, common.NewAppError("GET_FAILED", "storage error while loading job", common.ErrStorage)
	}
	if job == nil || job.SessionID != sessionID {
		return nil, common.NewAppError("JOB_NOT_FOUND", "job not found", common.ErrNotFound)
	}
	return job, nil
}

func (s *JobService) ListSessionJobs(ctx context.Context, sessionID string) ([]*jobstore.Job, error) {
	return s.jobs.ListBySession(ctx, sessionID)
}

// DeleteSession removes all of a session's jobs and their source blobs,
// returning the number of job records deleted.
func (s *JobService) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	jobs, err := s.jobs.ListBySession(ctx, sessionID)
	if err != nil {
		return 0, common.NewAppError("LIST_FAILED", "storage error while listing session jobs", common.ErrStorage)
	}
	deleted := 0
	for _, job := range jobs {
		if job.BlobPath != "" {
			if err := s.blobs.Delete(ctx, job.BlobPath); err != nil {
				s.logger.Warn("service.blob_delete_error", "job_id", job.ID, "error", err)
			}
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			s.logger.Warn("service.job_delete_error", "job_id", job.ID, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// SessionCSV exports the session's completed jobs as CSV bytes.
func (s *JobService) SessionCSV(ctx context.Context, sessionID string) ([]byte, error) {
	return s.exports.SessionCSV(ctx, sessionID)
}

// SessionXLSX exports the session's completed jobs as an XLSX workbook.
func (s *JobService) SessionXLSX(ctx context.Context, sessionID string) ([]byte, error) {
	return s.exports.SessionXLSX(ctx, sessionID)
}

func acceptedMIME(ct string) bool {
	for _, m := range constants.AcceptedMIME {
		if ct == m {
			return true
		}
	}
	return false
}
