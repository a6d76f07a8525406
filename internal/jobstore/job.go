package jobstore

import (
	"encoding/json"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
)

// Lock marks a job as claimed by one worker.
type Lock struct {
	OwnerID    string    `json:"lockedBy"`
	AcquiredAt time.Time `json:"lockedAt"`
}

// Job is one document's end-to-end processing record.
//
// Invariants: Lock is present iff the job is in an active-processing
// status; done/failed always clear it. Attempt only increases. Stages is
// append-only (one timestamp per stage ever entered; heartbeat is
// refreshed in place).
type Job struct {
	ID        string              `json:"jobId"`
	SessionID string              `json:"sessionId"`
	Filename  string              `json:"filename"`
	SizeBytes int64               `json:"sizeBytes"`
	PageCount int                 `json:"pageCount"`
	BlobPath  string              `json:"blobPath"`
	Status    constants.JobStatus `json:"status"`

	Stages        map[string]time.Time `json:"stages"`
	Attempt       int                  `json:"attempt"`
	ManualRetries int                  `json:"manualRetries,omitempty"`
	Lock          *Lock                `json:"processingLock,omitempty"`

	Result     json.RawMessage `json:"resultJson,omitempty"`
	Confidence *float64        `json:"confidenceScore,omitempty"`
	Error      string          `json:"error,omitempty"`
	OCRMethod  string          `json:"ocrMethod,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New builds a freshly uploaded job document.
func New(id, sessionID, filename, blobPath string, sizeBytes int64, pageCount int, now time.Time) *Job {
	return &Job{
		ID:        id,
		SessionID: sessionID,
		Filename:  filename,
		SizeBytes: sizeBytes,
		PageCount: pageCount,
		BlobPath:  blobPath,
		Status:    constants.JobStatusUploaded,
		Stages:    map[string]time.Time{constants.StageUploaded: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) touch(stage string, now time.Time) {
	if j.Stages == nil {
		j.Stages = make(map[string]time.Time)
	}
	j.Stages[stage] = now
	j.UpdatedAt = now
}
