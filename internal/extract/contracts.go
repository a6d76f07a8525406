package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"unicode/utf8"
)

// Provider turns sanitized document text into a structured JSON payload.
// Implementations wrap one upstream model API each.
type Provider interface {
	Name() string
	Extract(ctx context.Context, text string) (json.RawMessage, error)
}

// RetryableError marks a transient upstream failure (connection reset,
// timeout, 429, 5xx). The retry decorator re-attempts these; everything
// else falls through to the next provider immediately.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a failure no amount of retrying will fix, such as a
// missing API key, a 4xx rejection, or a malformed response body.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func retryable(format string, args ...any) error {
	return &RetryableError{Err: fmt.Errorf(format, args...)}
}

func fatal(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether err should be re-attempted against the
// same provider.
func IsRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyStatus wraps a non-2xx response as retryable or fatal based on
// the status code.
func classifyStatus(provider string, status int, body []byte) error {
	if status == 429 || status >= 500 {
		return retryable("%s: status %d", provider, status)
	}
	return fatal("%s: status %d: %s", provider, status, truncateBody(body))
}

func truncateBody(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// clip bounds provider input to limit bytes without splitting a UTF-8
// sequence.
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
