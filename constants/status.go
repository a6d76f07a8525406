package constants

// JobStatus is the canonical status for job documents.
type JobStatus string

// Stable values (store these exact strings).
const (
	JobStatusUploaded   JobStatus = "uploaded"   // blob stored, job record created
	JobStatusQueued     JobStatus = "queued"     // enqueued for processing
	JobStatusProcessing JobStatus = "processing" // lock held, pipeline started
	JobStatusExtracting JobStatus = "extracting" // OCR stage
	JobStatusLLM        JobStatus = "llm"        // structured extraction stage
	JobStatusDone       JobStatus = "done"       // terminal success
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Lockable reports whether a fresh lock may be acquired from this status.
// A processing job is additionally claimable once its lock has gone stale.
func (s JobStatus) Lockable() bool {
	return s == JobStatusUploaded || s == JobStatusQueued || s == JobStatusFailed
}

// Stage keys recorded in the job's append-only stage timestamp map.
const (
	StageUploaded   = "uploaded"
	StageQueued     = "queued"
	StageProcessing = "processing"
	StageExtracting = "extracting"
	StageLLM        = "llm"
	StageDone       = "done"
	StageFailed     = "failed"
	StageHeartbeat  = "heartbeat"
)
