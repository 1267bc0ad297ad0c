package oracle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta/models"
	geminiDefaultModel = "gemini-2.0-flash"
)

// Gemini implements Oracle using Google's generateContent API.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewGemini creates a Gemini client
func NewGemini(cfg ClientConfig) *Gemini {
	model := cfg.DefaultModel
	if model == "" {
		model = geminiDefaultModel
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: cfg.timeout()},
		logger:  cfg.logger(),
	}
}

func (g *Gemini) Invoke(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	parts := make([]map[string]interface{}, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		if !supportedMIMEType(a.MIMEType) {
			return "", fmt.Errorf("unsupported attachment type: %s", a.MIMEType)
		}
		parts = append(parts, map[string]interface{}{
			"inline_data": map[string]interface{}{
				"mime_type": a.MIMEType,
				"data":      base64.StdEncoding.EncodeToString(a.Data),
			},
		})
	}
	parts = append(parts, map[string]interface{}{"text": req.Prompt})

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role":  "user",
				"parts": parts,
			},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens": 8192,
		},
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, model)
	g.logger.Info("oracle.invoke.start", "provider", ProviderGemini, "model", model, "attachments", len(req.Attachments))

	res, err := sendJSON(ctx, g.client, url, reqBody, map[string]string{"x-goog-api-key": g.apiKey}, g.logger)
	if err != nil {
		return "", fmt.Errorf("calling gemini API: %w", err)
	}

	if res.status != http.StatusOK {
		baseErr := fmt.Errorf("gemini API error (status %d): %s", res.status, truncate(string(res.body), 500))
		if res.status == http.StatusTooManyRequests {
			retryAfter := ParseRetryAfterHeader(res.header.Get("Retry-After"), time.Now())
			return "", NewRateLimitError(ProviderGemini, model, baseErr, retryAfter)
		}
		return "", baseErr
	}

	text, err := parseGeminiResponse(res.body)
	if err != nil {
		return "", err
	}
	g.logger.Info("oracle.invoke.done", "provider", ProviderGemini, "model", model, "chars", len(text))
	return text, nil
}

// geminiResponse models the Gemini API response.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func parseGeminiResponse(body []byte) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from API: no candidates")
	}

	candidate := resp.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from API: no parts (finish reason %q)", candidate.FinishReason)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
