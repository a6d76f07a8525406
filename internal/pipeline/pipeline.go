package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/blob"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/invoice"
	"github.com/joseph-ayodele/invoice-pipeline/internal/jobstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ocr"
)

// Result reports one pipeline invocation back to the invoking layer.
type Result struct {
	OK         bool                `json:"ok"`
	JobID      string              `json:"jobId"`
	Status     constants.JobStatus `json:"status,omitempty"`
	Confidence *float64            `json:"confidence,omitempty"`
	Note       string              `json:"note,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Extractor is the provider chain boundary.
type Extractor interface {
	Extract(ctx context.Context, text string) (json.RawMessage, error)
}

// OCRSelector is the tier-selection boundary.
type OCRSelector interface {
	Extract(ctx context.Context, blobPath string, pageCount int) (ocr.Result, error)
}

// Orchestrator runs one job's pipeline end-to-end under the processing
// lock: OCR tier selection, sanitize, extraction with fallback,
// validation, confidence scoring, persistence, cleanup.
type Orchestrator struct {
	jobs      *jobstore.Store
	blobs     blob.Store
	selector  OCRSelector
	extractor Extractor
	sanitize  common.SanitizeConfig
	workerID  string
	logger    *slog.Logger
}

func NewOrchestrator(jobs *jobstore.Store, blobs blob.Store, selector OCRSelector, extractor Extractor, sanitize common.SanitizeConfig, workerID string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		jobs:      jobs,
		blobs:     blobs,
		selector:  selector,
		extractor: extractor,
		sanitize:  sanitize,
		workerID:  workerID,
		logger:    logger,
	}
}

// ProcessJob processes one job. Duplicate deliveries are absorbed by the
// lock protocol: a lost acquisition is a successful no-op, not an error.
// The lock is released on every exit path. Caller-protocol errors
// (session mismatch) are returned after the job is marked failed; all
// other failures are terminal for the job and reported in the Result.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID, sessionID string) (Result, error) {
	job, err := o.jobs.AcquireLock(ctx, jobID, o.workerID)
	if err != nil {
		return Result{OK: false, JobID: jobID, Error: "storage error"}, err
	}
	if job == nil {
		return Result{OK: true, JobID: jobID, Note: "lock not acquired; likely processed by another worker"}, nil
	}
	defer func() {
		if rerr := o.jobs.ReleaseLock(context.WithoutCancel(ctx), jobID); rerr != nil {
			o.logger.Error("pipeline.release_lock_error", "job_id", jobID, "error", rerr)
		}
	}()

	o.heartbeat(ctx, jobID)

	if job.SessionID != sessionID {
		o.setError(ctx, jobID, "session mismatch")
		return Result{OK: false, JobID: jobID, Error: "session mismatch"},
			common.NewAppError("SESSION_MISMATCH", "job belongs to another session", common.ErrSessionMismatch)
	}

	if job.BlobPath == "" {
		o.setError(ctx, jobID, "missing source document reference")
		return Result{OK: false, JobID: jobID, Error: "missing source document"}, nil
	}
	if ok, err := o.blobs.Exists(ctx, job.BlobPath); err != nil || !ok {
		if err != nil {
			o.logger.Error("pipeline.blob_check_error", "job_id", jobID, "error", err)
		}
		o.setError(ctx, jobID, "source document not found in storage")
		return Result{OK: false, JobID: jobID, Error: "missing source document"}, nil
	}

	// OCR stage
	if err := o.jobs.SetStatus(ctx, jobID, constants.JobStatusExtracting, constants.StageExtracting); err != nil {
		return o.failStorage(ctx, jobID, err)
	}
	o.heartbeat(ctx, jobID)

	ocrRes, err := o.selector.Extract(ctx, job.BlobPath, job.PageCount)
	if err != nil {
		o.logger.Error("pipeline.ocr_error", "job_id", jobID, "error", err)
		o.setError(ctx, jobID, "text extraction failed")
		return Result{OK: false, JobID: jobID, Error: "ocr error"}, nil
	}
	if err := o.jobs.SetOCRMethod(ctx, jobID, ocrRes.Method); err != nil {
		o.logger.Warn("pipeline.set_ocr_method_error", "job_id", jobID, "error", err)
	}
	o.logger.Info("pipeline.ocr_done", "job_id", jobID, "worker_id", o.workerID, "method", ocrRes.Method, "pages", ocrRes.Pages)
	o.heartbeat(ctx, jobID)

	// Sanitize
	rawText := ocrRes.Text
	textForLLM := Sanitize(rawText, o.sanitize)
	reduction := 0.0
	if base := len(rawText); base > 0 {
		reduction = max(0, 1.0-float64(len(textForLLM))/float64(base))
	}
	o.logger.Info("pipeline.sanitized",
		"job_id", jobID,
		"raw_chars", len(rawText),
		"sanitized_chars", len(textForLLM),
		"reduction", reduction,
	)

	// Extraction
	if err := o.jobs.SetStatus(ctx, jobID, constants.JobStatusLLM, constants.StageLLM); err != nil {
		return o.failStorage(ctx, jobID, err)
	}
	o.heartbeat(ctx, jobID)

	payload, err := o.extractor.Extract(ctx, textForLLM)
	if err != nil {
		o.logger.Error("pipeline.extract_error", "job_id", jobID, "error", err)
		if errors.Is(err, common.ErrUpstream) {
			o.setError(ctx, jobID, "transient extraction provider error")
			return Result{OK: false, JobID: jobID, Error: "transient api error"}, nil
		}
		o.setError(ctx, jobID, "unexpected internal error")
		return Result{OK: false, JobID: jobID, Error: "unexpected error"}, nil
	}
	o.heartbeat(ctx, jobID)

	// Validate & coerce
	inv, err := invoice.Coerce(payload)
	if err == nil {
		err = invoice.Validate(inv)
	}
	if err != nil {
		o.logger.Error("pipeline.validation_error", "job_id", jobID, "error", err)
		o.setError(ctx, jobID, "validation error: invoice schema mismatch: "+err.Error())
		return Result{OK: false, JobID: jobID, Error: "validation error"}, nil
	}

	pages := ocrRes.Pages
	if pages == 0 {
		pages = job.PageCount
	}
	confidence := invoice.Confidence(textForLLM, pages, inv)

	resultJSON, err := json.Marshal(inv)
	if err != nil {
		o.setError(ctx, jobID, "unexpected internal error")
		return Result{OK: false, JobID: jobID, Error: "unexpected error"}, nil
	}
	if err := o.jobs.SetResult(ctx, jobID, resultJSON, confidence); err != nil {
		return o.failStorage(ctx, jobID, err)
	}

	// Best-effort source cleanup; failures are logged and swallowed.
	if err := o.blobs.Delete(ctx, job.BlobPath); err != nil {
		o.logger.Warn("pipeline.blob_delete_error", "job_id", jobID, "blob", job.BlobPath, "error", err)
	}

	o.logger.Info("pipeline.done", "job_id", jobID, "worker_id", o.workerID, "confidence", confidence)
	return Result{OK: true, JobID: jobID, Status: constants.JobStatusDone, Confidence: &confidence}, nil
}

// heartbeat refreshes the diagnostic stage timestamp; failures never
// interrupt the pipeline.
func (o *Orchestrator) heartbeat(ctx context.Context, jobID string) {
	if err := o.jobs.Heartbeat(ctx, jobID); err != nil {
		o.logger.Warn("pipeline.heartbeat_error", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) setError(ctx context.Context, jobID, message string) {
	if err := o.jobs.SetError(ctx, jobID, message); err != nil {
		o.logger.Error("pipeline.set_error_failed", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) failStorage(ctx context.Context, jobID string, err error) (Result, error) {
	o.logger.Error("pipeline.storage_error", "job_id", jobID, "error", err)
	o.setError(ctx, jobID, "storage error")
	return Result{OK: false, JobID: jobID, Error: "storage error"}, nil
}
