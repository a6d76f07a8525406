package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/service"
)

// Server is the HTTP adapter in front of the job service. Session
// identity arrives via the X-Session-ID header; authentication is
// handled upstream.
type Server struct {
	svc    *service.JobService
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger
}

func NewServer(svc *service.JobService, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/v1/jobs", s.handleUpload)
	s.mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /api/v1/jobs/{id}/retry", s.handleRetry)
	s.mux.HandleFunc("GET /api/v1/session/jobs", s.handleListJobs)
	s.mux.HandleFunc("DELETE /api/v1/session", s.handleDeleteSession)
	s.mux.HandleFunc("GET /api/v1/session/export.csv", s.handleExportCSV)
	s.mux.HandleFunc("GET /api/v1/session/export.xlsx", s.handleExportXLSX)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server.listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	SessionID string            `json:"sessionId"`
	Jobs      []service.JobItem `json:"jobs"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "X-Session-ID header is required")
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fileHeaders := r.MultipartForm.File["files"]
	files := make([]service.UploadFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "unreadable file: "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "unreadable file: "+fh.Filename)
			return
		}
		files = append(files, service.UploadFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	jobs, err := s.svc.CreateUploadJobs(r.Context(), sessionID, files, clientIP(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, uploadResponse{SessionID: sessionID, Jobs: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	job, err := s.svc.GetJob(r.Context(), r.PathValue("id"), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	if err := s.svc.RetryJob(r.Context(), r.PathValue("id"), sessionID, clientIP(r)); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "X-Session-ID header is required")
		return
	}
	jobs, err := s.svc.ListSessionJobs(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "X-Session-ID header is required")
		return
	}
	deleted, err := s.svc.DeleteSession(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	data, err := s.svc.SessionCSV(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.csv"`)
	_, _ = w.Write(data)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-ID")
	data, err := s.svc.SessionXLSX(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps the service error taxonomy onto status codes.
// Rate-limit denials carry quota headers so clients can back off.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		dec := rle.Decision
		w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetEpoch, 10))
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	switch {
	case errors.Is(err, common.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, userMessage(err))
	case errors.Is(err, common.ErrPayloadTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, userMessage(err))
	case errors.Is(err, common.ErrConflict):
		s.writeError(w, http.StatusConflict, userMessage(err))
	case errors.Is(err, common.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	default:
		s.logger.Error("server.internal_error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// userMessage surfaces the AppError message without internal detail.
func userMessage(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "request failed"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("server.encode_error", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// clientIP prefers X-Forwarded-For when a proxy sets it.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
