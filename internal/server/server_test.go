package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/blob"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/docstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/export"
	"github.com/joseph-ayodele/invoice-pipeline/internal/jobstore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ratelimit"
	"github.com/joseph-ayodele/invoice-pipeline/internal/service"
)

type nopQueue struct{ tasks int }

func (q *nopQueue) Enqueue(context.Context, queue.Task) error { q.tasks++; return nil }
func (q *nopQueue) Shutdown(context.Context)                  {}

type onePage struct{}

func (onePage) CountPages([]byte) (int, error) { return 1, nil }

func newTestServer(t *testing.T, rl common.RateLimitConfig) (*Server, *nopQueue) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := docstore.NewMemoryStore()
	jobs := jobstore.NewStore(docs, 15*time.Minute, logger)
	limiter := ratelimit.NewLimiter(docs, rl, logger)
	q := &nopQueue{}
	svc := service.NewJobService(
		common.LimitsConfig{MaxFiles: 5, MaxSizeMB: 10, MaxPages: 20},
		jobs, blob.NewMemoryStore(), limiter, q, onePage{},
		export.NewService(jobs, logger), logger,
	)
	return NewServer(svc, ":0", logger), q
}

func multipartBody(t *testing.T, filenames ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range filenames {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", "application/pdf")
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte("%PDF-1.4 content")); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, s *Server, sessionID string, filenames ...string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filenames...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", ct)
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func TestUploadEndpoint(t *testing.T) {
	s, q := newTestServer(t, common.RateLimitConfig{Enabled: false})

	rec := doUpload(t, s, "sess-1", "a.pdf", "b.pdf")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		SessionID string            `json:"sessionId"`
		Jobs      []service.JobItem `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "sess-1" || len(resp.Jobs) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if q.tasks != 2 {
		t.Fatalf("enqueued = %d", q.tasks)
	}
}

func TestUploadRequiresSessionHeader(t *testing.T) {
	s, _ := newTestServer(t, common.RateLimitConfig{Enabled: false})
	rec := doUpload(t, s, "", "a.pdf")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUploadRateLimitedCarriesQuotaHeaders(t *testing.T) {
	s, _ := newTestServer(t, common.RateLimitConfig{
		Enabled:         true,
		JobsPerMinCap:   10,
		FilesPerMinCap:  1,
		RetryPerMinCap:  1,
		DailyGlobal:     100,
		DailyPerSession: 100,
	})

	rec := doUpload(t, s, "sess-1", "a.pdf", "b.pdf")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("missing X-RateLimit-Limit header")
	}
}

func TestGetJobEndpoint(t *testing.T) {
	s, _ := newTestServer(t, common.RateLimitConfig{Enabled: false})
	rec := doUpload(t, s, "sess-1", "a.pdf")
	var created struct {
		Jobs []service.JobItem `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	jobID := created.Jobs[0].JobID

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	req.Header.Set("X-Session-ID", "sess-1")
	getRec := httptest.NewRecorder()
	s.mux.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("status = %d", getRec.Code)
	}

	// Another session sees 404, not 403.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	req.Header.Set("X-Session-ID", "other")
	otherRec := httptest.NewRecorder()
	s.mux.ServeHTTP(otherRec, req)
	if otherRec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", otherRec.Code)
	}
}

func TestRetryEndpointUnknownJob(t *testing.T) {
	s, _ := newTestServer(t, common.RateLimitConfig{Enabled: false})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nope/retry", nil)
	req.Header.Set("X-Session-ID", "sess-1")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteSessionEndpoint(t *testing.T) {
	s, _ := newTestServer(t, common.RateLimitConfig{Enabled: false})
	doUpload(t, s, "sess-1", "a.pdf", "b.pdf")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil)
	req.Header.Set("X-Session-ID", "sess-1")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["deleted"] != 2 {
		t.Fatalf("resp = %v", resp)
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	s, _ := newTestServer(t, common.RateLimitConfig{Enabled: false})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/export.csv", nil)
	req.Header.Set("X-Session-ID", "sess-1")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("content-type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty body, want header row")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, common.RateLimitConfig{Enabled: false})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	if ip := clientIP(req); ip != "10.0.0.1" {
		t.Fatalf("ip = %q", ip)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ip := clientIP(req); ip != "203.0.113.7" {
		t.Fatalf("ip = %q", ip)
	}
}
