package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/blob"
	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// HTTPEngine talks to an external OCR service over HTTP. The service
// owns recognition; this client only moves document bytes and text.
type HTTPEngine struct {
	baseURL string
	blobs   blob.Store
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPEngine(cfg common.OCRConfig, blobs blob.Store, logger *slog.Logger) *HTTPEngine {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPEngine{
		baseURL: cfg.Endpoint,
		blobs:   blobs,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type ocrResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

func (e *HTTPEngine) TextLayer(ctx context.Context, blobPath string, pages int) (string, error) {
	resp, err := e.post(ctx, "/v1/text-layer", blobPath, pages)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (e *HTTPEngine) ExtractSync(ctx context.Context, blobPath string, pages int) (Result, error) {
	resp, err := e.post(ctx, "/v1/ocr/sync", blobPath, pages)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: resp.Text, Pages: pageCount(resp.Pages, pages), Method: constants.OCRMethodSync}, nil
}

// ExtractBatch submits to the async tier; the OCR service blocks until
// the batch completes or the caller's deadline expires.
func (e *HTTPEngine) ExtractBatch(ctx context.Context, blobPath string, pages int) (Result, error) {
	resp, err := e.post(ctx, "/v1/ocr/batch", blobPath, pages)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: resp.Text, Pages: pageCount(resp.Pages, pages), Method: constants.OCRMethodBatch}, nil
}

func (e *HTTPEngine) post(ctx context.Context, path, blobPath string, pages int) (*ocrResponse, error) {
	data, err := e.blobs.Get(ctx, blobPath)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", blobPath, err)
	}

	start := time.Now()
	url := e.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("X-Page-Count", fmt.Sprint(pages))

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Error("ocr.http.send_error", "path", path, "blob", blobPath, "error", err)
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ocr response: %w", err)
	}
	e.logger.Info("ocr.http.response",
		"path", path,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ocr service status %d", resp.StatusCode)
	}

	var out ocrResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return &out, nil
}

func pageCount(reported, hint int) int {
	if reported > 0 {
		return reported
	}
	return hint
}
