package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/blob"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/jobstore"
)

// Sweeper deletes jobs older than the retention window together with
// their source blobs.
type Sweeper struct {
	cfg    common.RetentionConfig
	jobs   *jobstore.Store
	blobs  blob.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewSweeper(cfg common.RetentionConfig, jobs *jobstore.Store, blobs blob.Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cfg: cfg, jobs: jobs, blobs: blobs, logger: logger, now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// SweepOnce removes everything past the retention age and returns the
// number of jobs deleted. Blob deletion is best-effort.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.MaxAge)
	jobs, err := s.jobs.ListOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, job := range jobs {
		if job.BlobPath != "" {
			if err := s.blobs.Delete(ctx, job.BlobPath); err != nil {
				s.logger.Warn("retention.blob_delete_error", "job_id", job.ID, "error", err)
			}
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			s.logger.Warn("retention.job_delete_error", "job_id", job.ID, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("retention.swept", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.cfg.LoopInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("retention.sweep_error", "error", err)
			}
		}
	}
}
