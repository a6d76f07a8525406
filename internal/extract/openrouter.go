package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

const (
	openRouterURL        = "https://openrouter.ai/api/v1/chat/completions"
	openRouterInputLimit = 12000
)

// OpenRouterProvider calls the OpenRouter chat completions API.
type OpenRouterProvider struct {
	apiKey string
	model  string
	client *http.Client
	logger *slog.Logger
}

func NewOpenRouterProvider(cfg common.ProviderConfig, logger *slog.Logger) *OpenRouterProvider {
	return &OpenRouterProvider{
		apiKey: cfg.OpenRouterAPIKey,
		model:  cfg.OpenRouterModel,
		client: newHTTPClient(cfg),
		logger: logger,
	}
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }

func (p *OpenRouterProvider) Extract(ctx context.Context, text string) (json.RawMessage, error) {
	if p.apiKey == "" {
		return nil, fatal("openrouter: missing API key")
	}
	text = clip(text, openRouterInputLimit)

	payload := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "system", "content": jsonInstructions},
			{"role": "user", "content": text},
		},
		"temperature": 0.2,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}

	raw, err := sendJSON(ctx, p.client, p.Name(), openRouterURL, payload, headers, p.logger)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fatal("openrouter: decode response: %v", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fatal("openrouter: empty response")
	}
	return parseResultJSON(p.Name(), resp.Choices[0].Message.Content)
}
