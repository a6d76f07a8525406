package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/docstore"
)

const (
	bucketCollection = "rl"
	dailyCollection  = "rl_daily"
)

// Decision is the outcome of one quota check, in the shape callers turn
// into Retry-After / X-RateLimit-* headers.
type Decision struct {
	Allowed    bool
	RetryAfter int // seconds until the caller may try again
	Limit      int
	Remaining  int
	ResetEpoch int64
	Reason     string
}

// Limiter composes token buckets and daily counters into the named quota
// policies. All bucket and counter mutations run as single transactions
// against the shared store, so concurrent workers in separate processes
// cannot lose updates.
type Limiter struct {
	docs   docstore.Store
	cfg    common.RateLimitConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewLimiter(docs docstore.Store, cfg common.RateLimitConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{docs: docs, cfg: cfg, logger: logger, now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

type bucketDoc struct {
	Tokens       float64 `json:"tokens"`
	UpdatedAt    float64 `json:"updatedAt"` // unix seconds
	Capacity     int     `json:"capacity"`
	RefillPerSec float64 `json:"refillPerSec"`
}

type dailyDoc struct {
	Used      int   `json:"used"`
	Limit     int   `json:"limit"`
	UpdatedAt int64 `json:"updatedAt"`
}

// consumeTokens lazily refills the bucket from elapsed wall time and
// deducts cost if it fits, all inside one transaction. Denials write
// nothing.
func (l *Limiter) consumeTokens(ctx context.Context, key string, capacity int, refillPerSec float64, cost int) (Decision, error) {
	now := float64(l.now().UnixNano()) / float64(time.Second)
	if cost <= 0 {
		return Decision{Allowed: true, Limit: capacity, Remaining: capacity, ResetEpoch: int64(now)}, nil
	}

	var dec Decision
	_, err := l.docs.Update(ctx, bucketCollection, key, func(cur []byte) ([]byte, error) {
		b := bucketDoc{Tokens: float64(capacity), UpdatedAt: now}
		if cur != nil {
			if err := json.Unmarshal(cur, &b); err != nil {
				return nil, fmt.Errorf("decode bucket %s: %w", key, err)
			}
		}
		elapsed := math.Max(0, now-b.UpdatedAt)
		tokens := math.Min(float64(capacity), b.Tokens+elapsed*refillPerSec)

		resetIn := 0.0
		if refillPerSec > 0 {
			resetIn = math.Ceil((float64(capacity) - tokens) / refillPerSec)
		}

		if tokens+1e-9 >= float64(cost) {
			after := tokens - float64(cost)
			resetIn = 0
			if refillPerSec > 0 {
				resetIn = math.Ceil((float64(capacity) - after) / refillPerSec)
			}
			dec = Decision{
				Allowed:    true,
				Limit:      capacity,
				Remaining:  int(math.Floor(after)),
				ResetEpoch: int64(now + resetIn),
			}
			next := bucketDoc{Tokens: after, UpdatedAt: now, Capacity: capacity, RefillPerSec: refillPerSec}
			return json.Marshal(next)
		}

		retryAfter := 60
		if refillPerSec > 0 {
			retryAfter = int(math.Ceil((float64(cost) - tokens) / refillPerSec))
		}
		dec = Decision{
			Allowed:    false,
			RetryAfter: retryAfter,
			Limit:      capacity,
			Remaining:  int(math.Max(0, math.Floor(tokens))),
			ResetEpoch: int64(now + resetIn),
		}
		return nil, nil
	})
	if err != nil {
		return Decision{}, err
	}
	return dec, nil
}

// incrementDaily adds cost to the counter keyed on key plus the current
// local date. Exceeding the limit rejects without mutating state;
// RetryAfter runs to the next local-midnight boundary.
func (l *Limiter) incrementDaily(ctx context.Context, key string, limit, cost int) (Decision, error) {
	nowEpoch := l.now().Unix()
	docKey := fmt.Sprintf("%s:%s", key, l.localDate())
	ttl := l.secondsUntilLocalMidnight()

	var dec Decision
	_, err := l.docs.Update(ctx, dailyCollection, docKey, func(cur []byte) ([]byte, error) {
		var d dailyDoc
		if cur != nil {
			if err := json.Unmarshal(cur, &d); err != nil {
				return nil, fmt.Errorf("decode daily %s: %w", docKey, err)
			}
		}
		newUsed := d.Used + cost
		if newUsed > limit {
			dec = Decision{
				Allowed:    false,
				RetryAfter: ttl,
				Limit:      limit,
				Remaining:  max(0, limit-d.Used),
				ResetEpoch: nowEpoch + int64(ttl),
			}
			return nil, nil
		}
		dec = Decision{
			Allowed:    true,
			Limit:      limit,
			Remaining:  max(0, limit-newUsed),
			ResetEpoch: nowEpoch + int64(ttl),
		}
		return json.Marshal(dailyDoc{Used: newUsed, Limit: limit, UpdatedAt: nowEpoch})
	})
	if err != nil {
		return Decision{}, err
	}
	return dec, nil
}

// localDate computes the calendar date used to key daily counters, at a
// fixed UTC offset. Daylight saving is ignored by design.
func (l *Limiter) localDate() string {
	local := l.now().UTC().Add(time.Duration(l.cfg.TZOffsetMinutes) * time.Minute)
	return local.Format("2006-01-02")
}

func (l *Limiter) secondsUntilLocalMidnight() int {
	local := l.now().UTC().Add(time.Duration(l.cfg.TZOffsetMinutes) * time.Minute)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	secs := int(midnight.Sub(local).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// EnforceUpload runs the composite upload policy in its fixed order. Each
// gate is a hard gate: the first denial aborts the chain. Quota consumed
// by earlier gates is not rolled back when a later gate rejects.
func (l *Limiter) EnforceUpload(ctx context.Context, sessionID string, fileCount int, clientIP string) (Decision, error) {
	if !l.cfg.Enabled {
		return Decision{Allowed: true}, nil
	}
	if fileCount < 1 {
		fileCount = 1
	}

	dec, err := l.consumeTokens(ctx,
		fmt.Sprintf("sess:%s:jobs_per_min", sessionID),
		l.cfg.JobsPerMinCap, float64(l.cfg.JobsPerMinCap)/60.0, fileCount)
	if err != nil {
		return Decision{}, err
	}
	if !dec.Allowed {
		return l.deny(dec, fmt.Sprintf("max %d jobs/min per session", l.cfg.JobsPerMinCap)), nil
	}

	dec, err = l.consumeTokens(ctx,
		fmt.Sprintf("sess:%s:files_per_min", sessionID),
		l.cfg.FilesPerMinCap, float64(l.cfg.FilesPerMinCap)/60.0, fileCount)
	if err != nil {
		return Decision{}, err
	}
	if !dec.Allowed {
		return l.deny(dec, fmt.Sprintf("max %d files/min per session", l.cfg.FilesPerMinCap)), nil
	}

	if l.cfg.UseIPFallback && clientIP != "" {
		dec, err = l.consumeTokens(ctx,
			fmt.Sprintf("ip:%s:jobs_per_min", clientIP),
			l.cfg.IPPerMinCap, float64(l.cfg.IPPerMinCap)/60.0, fileCount)
		if err != nil {
			return Decision{}, err
		}
		if !dec.Allowed {
			return l.deny(dec, "too many requests from your network"), nil
		}
	}

	// Global daily cap checked before the session cap so a full service
	// does not burn per-session quota.
	dec, err = l.incrementDaily(ctx, "global", l.cfg.DailyGlobal, fileCount)
	if err != nil {
		return Decision{}, err
	}
	if !dec.Allowed {
		return l.deny(dec, "service is at today's capacity"), nil
	}

	dec, err = l.incrementDaily(ctx, fmt.Sprintf("sess:%s:daily_jobs", sessionID), l.cfg.DailyPerSession, fileCount)
	if err != nil {
		return Decision{}, err
	}
	if !dec.Allowed {
		return l.deny(dec, fmt.Sprintf("daily limit reached (%d jobs)", l.cfg.DailyPerSession)), nil
	}
	return dec, nil
}

// EnforceRetry gates the explicit retry operation: a per-session
// retries/minute bucket plus a lighter optional per-IP backstop.
func (l *Limiter) EnforceRetry(ctx context.Context, sessionID, clientIP string) (Decision, error) {
	if !l.cfg.Enabled {
		return Decision{Allowed: true}, nil
	}

	dec, err := l.consumeTokens(ctx,
		fmt.Sprintf("sess:%s:retries_per_min", sessionID),
		l.cfg.RetryPerMinCap, float64(l.cfg.RetryPerMinCap)/60.0, 1)
	if err != nil {
		return Decision{}, err
	}
	if !dec.Allowed {
		return l.deny(dec, fmt.Sprintf("retry limit: max %d/min per session", l.cfg.RetryPerMinCap)), nil
	}

	if l.cfg.UseIPFallback && clientIP != "" {
		backstopCap := l.cfg.IPPerMinCap / 2
		if backstopCap < 10 {
			backstopCap = 10
		}
		dec, err = l.consumeTokens(ctx,
			fmt.Sprintf("ip:%s:retries_per_min", clientIP),
			backstopCap, float64(backstopCap)/60.0, 1)
		if err != nil {
			return Decision{}, err
		}
		if !dec.Allowed {
			return l.deny(dec, "too many retry requests from your network"), nil
		}
	}
	return dec, nil
}

func (l *Limiter) deny(dec Decision, reason string) Decision {
	dec.Reason = reason
	l.logger.Warn("ratelimit.denied",
		"reason", reason,
		"retry_after", dec.RetryAfter,
		"remaining", dec.Remaining,
	)
	return dec
}
