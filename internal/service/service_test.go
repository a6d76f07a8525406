package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/blob"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/docstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/export"
	"github.com/joseph-ayodele/invoice-pipeline/internal/jobstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ratelimit"
)

type recordingQueue struct {
	tasks []queue.Task
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task queue.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) Shutdown(context.Context) {}

type fixedPages struct {
	pages int
	err   error
}

func (p *fixedPages) CountPages([]byte) (int, error) { return p.pages, p.err }

type svcFixture struct {
	svc   *JobService
	jobs  *jobstore.Store
	blobs *blob.MemoryStore
	queue *recordingQueue
	pages *fixedPages
}

func newService(t *testing.T) *svcFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := docstore.NewMemoryStore()
	jobs := jobstore.NewStore(docs, 15*time.Minute, logger)
	blobs := blob.NewMemoryStore()
	limiter := ratelimit.NewLimiter(docs, common.RateLimitConfig{Enabled: false}, logger)
	q := &recordingQueue{}
	pages := &fixedPages{pages: 2}
	exports := export.NewService(jobs, logger)
	limits := common.LimitsConfig{MaxFiles: 3, MaxSizeMB: 1, MaxPages: 10}
	svc := NewJobService(limits, jobs, blobs, limiter, q, pages, exports, logger)
	return &svcFixture{svc: svc, jobs: jobs, blobs: blobs, queue: q, pages: pages}
}

func pdfFile(name string) UploadFile {
	return UploadFile{Filename: name, ContentType: "application/pdf", Data: []byte("%PDF-1.4 body")}
}

func TestCreateUploadJobs(t *testing.T) {
	f := newService(t)
	ctx := context.Background()

	items, err := f.svc.CreateUploadJobs(ctx, "sess-1", []UploadFile{pdfFile("a.pdf"), pdfFile("b.pdf")}, "203.0.113.9")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	for _, it := range items {
		if it.Status != constants.JobStatusQueued || it.PageCount != 2 {
			t.Fatalf("item = %+v", it)
		}
		job, err := f.jobs.Get(ctx, it.JobID)
		if err != nil || job == nil {
			t.Fatalf("job %s missing: %v", it.JobID, err)
		}
		if ok, _ := f.blobs.Exists(ctx, job.BlobPath); !ok {
			t.Fatalf("blob %s missing", job.BlobPath)
		}
	}
	if len(f.queue.tasks) != 2 {
		t.Fatalf("enqueued = %d", len(f.queue.tasks))
	}
}

func TestCreateUploadJobsRequiresSession(t *testing.T) {
	f := newService(t)
	_, err := f.svc.CreateUploadJobs(context.Background(), "", []UploadFile{pdfFile("a.pdf")}, "")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateUploadJobsRejectsEmptyBatch(t *testing.T) {
	f := newService(t)
	_, err := f.svc.CreateUploadJobs(context.Background(), "sess-1", nil, "")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateUploadJobsRejectsOversizedBatch(t *testing.T) {
	f := newService(t)
	files := []UploadFile{pdfFile("a.pdf"), pdfFile("b.pdf"), pdfFile("c.pdf"), pdfFile("d.pdf")}
	_, err := f.svc.CreateUploadJobs(context.Background(), "sess-1", files, "")
	if !errors.Is(err, common.ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateUploadJobsRejectsBadMIME(t *testing.T) {
	f := newService(t)
	files := []UploadFile{{Filename: "a.txt", ContentType: "text/plain", Data: []byte("hi")}}
	_, err := f.svc.CreateUploadJobs(context.Background(), "sess-1", files, "")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateUploadJobsRejectsOversizedFile(t *testing.T) {
	f := newService(t)
	big := UploadFile{Filename: "big.pdf", ContentType: "application/pdf", Data: make([]byte, 2*1024*1024)}
	_, err := f.svc.CreateUploadJobs(context.Background(), "sess-1", []UploadFile{big}, "")
	if !errors.Is(err, common.ErrPayloadTooLarge) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateUploadJobsRejectsExcessPages(t *testing.T) {
	f := newService(t)
	f.pages.pages = 50
	_, err := f.svc.CreateUploadJobs(context.Background(), "sess-1", []UploadFile{pdfFile("a.pdf")}, "")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateUploadJobsRejectsUnreadablePDF(t *testing.T) {
	f := newService(t)
	f.pages.err = errors.New("bad xref")
	_, err := f.svc.CreateUploadJobs(context.Background(), "sess-1", []UploadFile{pdfFile("a.pdf")}, "")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateUploadJobsDeniedByQuota(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := docstore.NewMemoryStore()
	jobs := jobstore.NewStore(docs, 15*time.Minute, logger)
	limiter := ratelimit.NewLimiter(docs, common.RateLimitConfig{
		Enabled:         true,
		JobsPerMinCap:   1,
		FilesPerMinCap:  1,
		RetryPerMinCap:  1,
		DailyGlobal:     100,
		DailyPerSession: 100,
	}, logger)
	svc := NewJobService(common.LimitsConfig{MaxFiles: 3, MaxSizeMB: 1, MaxPages: 10},
		jobs, blob.NewMemoryStore(), limiter, &recordingQueue{}, &fixedPages{pages: 1},
		export.NewService(jobs, logger), logger)

	// Two files against a one-file-per-minute quota.
	_, err := svc.CreateUploadJobs(context.Background(), "sess-1", []UploadFile{pdfFile("a.pdf"), pdfFile("b.pdf")}, "")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if !errors.Is(err, common.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited sentinel", err)
	}
	if rle.Decision.RetryAfter <= 0 {
		t.Fatalf("decision = %+v", rle.Decision)
	}
}

func TestRetryJob(t *testing.T) {
	f := newService(t)
	ctx := context.Background()

	items, err := f.svc.CreateUploadJobs(ctx, "sess-1", []UploadFile{pdfFile("a.pdf")}, "")
	if err != nil {
		t.Fatal(err)
	}
	jobID := items[0].JobID

	if err := f.svc.RetryJob(ctx, jobID, "sess-1", ""); err != nil {
		t.Fatal(err)
	}
	if len(f.queue.tasks) != 2 {
		t.Fatalf("enqueued = %d, want 2", len(f.queue.tasks))
	}
	job, _ := f.jobs.Get(ctx, jobID)
	if job.ManualRetries != 1 {
		t.Fatalf("manualRetries = %d", job.ManualRetries)
	}
}

func TestRetryJobWrongSessionIsNotFound(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	items, err := f.svc.CreateUploadJobs(ctx, "sess-1", []UploadFile{pdfFile("a.pdf")}, "")
	if err != nil {
		t.Fatal(err)
	}
	err = f.svc.RetryJob(ctx, items[0].JobID, "sess-2", "")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryJobSourceGone(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	items, err := f.svc.CreateUploadJobs(ctx, "sess-1", []UploadFile{pdfFile("a.pdf")}, "")
	if err != nil {
		t.Fatal(err)
	}
	job, _ := f.jobs.Get(ctx, items[0].JobID)
	if err := f.blobs.Delete(ctx, job.BlobPath); err != nil {
		t.Fatal(err)
	}

	err = f.svc.RetryJob(ctx, items[0].JobID, "sess-1", "")
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetJobScopedToSession(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	items, err := f.svc.CreateUploadJobs(ctx, "sess-1", []UploadFile{pdfFile("a.pdf")}, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.GetJob(ctx, items[0].JobID, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetJob(ctx, items[0].JobID, "other"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.svc.GetJob(ctx, "nope", "sess-1"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	f := newService(t)
	ctx := context.Background()
	items, err := f.svc.CreateUploadJobs(ctx, "sess-1", []UploadFile{pdfFile("a.pdf"), pdfFile("b.pdf")}, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CreateUploadJobs(ctx, "sess-2", []UploadFile{pdfFile("c.pdf")}, ""); err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.DeleteSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("deleted = %d", n)
	}
	for _, it := range items {
		job, _ := f.jobs.Get(ctx, it.JobID)
		if job != nil {
			t.Fatalf("job %s survived deletion", it.JobID)
		}
	}
	// The other session is untouched.
	left, err := f.svc.ListSessionJobs(ctx, "sess-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 {
		t.Fatalf("sess-2 jobs = %d", len(left))
	}
	if f.blobs.Len() != 1 {
		t.Fatalf("blobs left = %d", f.blobs.Len())
	}
}
