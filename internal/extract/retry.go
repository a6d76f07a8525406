package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// retryingProvider decorates a Provider with bounded retries and
// randomized exponential backoff. Only retryable errors are retried;
// anything else surfaces immediately so the chain can fall back.
type retryingProvider struct {
	inner    Provider
	attempts int
	base     time.Duration
	max      time.Duration
	logger   *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps p according to the provider retry settings.
func WithRetry(p Provider, cfg common.ProviderConfig, logger *slog.Logger) Provider {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &retryingProvider{
		inner:    p,
		attempts: attempts,
		base:     cfg.RetryBaseDelay,
		max:      cfg.RetryMaxDelay,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

func (r *retryingProvider) Name() string { return r.inner.Name() }

func (r *retryingProvider) Extract(ctx context.Context, text string) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.inner.Extract(ctx, text)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == r.attempts {
			break
		}
		delay := r.backoff(attempt)
		r.logger.Warn("extract.retry",
			"provider", r.inner.Name(),
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoff returns a random delay in (0, base*2^(attempt-1)] capped at max.
func (r *retryingProvider) backoff(attempt int) time.Duration {
	ceil := r.base << (attempt - 1)
	if ceil > r.max || ceil <= 0 {
		ceil = r.max
	}
	if ceil <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceil))) + 1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
