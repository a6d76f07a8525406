package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

const jsonInstructions = "You are an information extraction engine. Extract invoice data as strict JSON with keys: " +
	"invoiceNumber (string), invoiceDate (YYYY-MM-DD), vendorName (string), currency (ISO code), " +
	"subtotal (number), tax (number), total (number), dueDate (YYYY-MM-DD or null), " +
	"lineItems (array of {description, quantity, unitPrice, lineTotal}), notes (optional). " +
	"Return ONLY JSON. No markdown, no prose."

const geminiInputLimit = 15000

// GeminiProvider calls the Gemini generateContent API.
type GeminiProvider struct {
	apiKey string
	model  string
	client *http.Client
	logger *slog.Logger
}

func NewGeminiProvider(cfg common.ProviderConfig, logger *slog.Logger) *GeminiProvider {
	return &GeminiProvider{
		apiKey: cfg.GeminiAPIKey,
		model:  cfg.GeminiModel,
		client: newHTTPClient(cfg),
		logger: logger,
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Extract(ctx context.Context, text string) (json.RawMessage, error) {
	if p.apiKey == "" {
		return nil, fatal("gemini: missing API key")
	}
	text = clip(text, geminiInputLimit)

	payload := map[string]any{
		"contents": []map[string]any{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": jsonInstructions},
					{"text": "\n---- OCR TEXT ----\n" + text},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":      0.2,
			"maxOutputTokens":  2048,
			"responseMimeType": "application/json",
		},
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", p.model, p.apiKey)
	raw, err := sendJSON(ctx, p.client, p.Name(), url, payload, nil, p.logger)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fatal("gemini: decode response: %v", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fatal("gemini: empty response")
	}
	return parseResultJSON(p.Name(), resp.Candidates[0].Content.Parts[0].Text)
}
