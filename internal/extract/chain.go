package extract

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

// Chain tries each provider in order until one succeeds. Providers are
// expected to carry their own retry policy; the chain itself only falls
// through on failure.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, logger: logger}
}

func (c *Chain) Extract(ctx context.Context, text string) (json.RawMessage, error) {
	if len(c.providers) == 0 {
		return nil, common.NewAppError("NO_PROVIDERS", "no extraction providers configured", common.ErrUpstream)
	}
	var lastErr error
	for _, p := range c.providers {
		out, err := p.Extract(ctx, text)
		if err == nil {
			c.logger.Info("extract.provider_ok", "provider", p.Name())
			return out, nil
		}
		lastErr = err
		c.logger.Warn("extract.provider_failed", "provider", p.Name(), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, common.NewAppError("EXTRACTION_FAILED", "all extraction providers failed: "+lastErr.Error(), common.ErrUpstream)
}
