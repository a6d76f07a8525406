package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// newHTTPClient builds the shared provider client with a separate
// connect timeout and an overall request deadline.
func newHTTPClient(cfg common.ProviderConfig) *http.Client {
	return &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout,
		},
	}
}

// sendJSON posts a JSON body and returns the raw response body and
// status. Transport errors and non-2xx statuses come back already
// classified as retryable or fatal.
func sendJSON(ctx context.Context, client *http.Client, provider, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fatal("%s: encode request: %v", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, fatal("%s: build request: %v", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Info("extract.http.request",
		"req_id", reqID,
		"provider", provider,
		"content_length", len(bs),
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("extract.http.send_error",
			"req_id", reqID,
			"provider", provider,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, retryable("%s: %v", provider, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("extract.http.response_body_close_error", "req_id", reqID, "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryable("%s: read response: %v", provider, err)
	}

	logger.Info("extract.http.response",
		"req_id", reqID,
		"provider", provider,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, classifyStatus(provider, resp.StatusCode, raw)
	}
	return raw, nil
}

// parseResultJSON checks that a model's text output is a JSON object
// before handing it downstream.
func parseResultJSON(provider, content string) (json.RawMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return nil, fatal("%s: non-JSON response: %v", provider, err)
	}
	return json.RawMessage(content), nil
}
