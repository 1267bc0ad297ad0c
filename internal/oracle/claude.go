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
	claudeAPIURL       = "https://api.anthropic.com/v1/messages"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-sonnet-4-20250514"
)

// Claude implements Oracle using the Anthropic Messages API.
type Claude struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewClaude creates a Claude client
func NewClaude(cfg ClientConfig) *Claude {
	model := cfg.DefaultModel
	if model == "" {
		model = claudeDefaultModel
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = claudeAPIURL
	}
	return &Claude{
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: cfg.timeout()},
		logger:   cfg.logger(),
	}
}

func (c *Claude) Invoke(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	blocks, err := buildContentBlocks(req)
	if err != nil {
		return "", fmt.Errorf("building content blocks: %w", err)
	}

	reqBody := map[string]interface{}{
		"model":      model,
		"max_tokens": 8192,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": blocks,
			},
		},
	}

	c.logger.Info("oracle.invoke.start", "provider", ProviderClaude, "model", model, "attachments", len(req.Attachments))

	res, err := sendJSON(ctx, c.client, c.endpoint, reqBody, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": claudeAPIVersion,
	}, c.logger)
	if err != nil {
		return "", fmt.Errorf("calling anthropic API: %w", err)
	}

	if res.status != http.StatusOK {
		baseErr := fmt.Errorf("anthropic API error (status %d): %s", res.status, truncate(string(res.body), 500))
		if res.status == http.StatusTooManyRequests {
			retryAfter := ParseRetryAfterHeader(res.header.Get("Retry-After"), time.Now())
			return "", NewRateLimitError(ProviderClaude, model, baseErr, retryAfter)
		}
		return "", baseErr
	}

	text, err := parseClaudeResponse(res.body)
	if err != nil {
		return "", err
	}
	c.logger.Info("oracle.invoke.done", "provider", ProviderClaude, "model", model, "chars", len(text))
	return text, nil
}

func buildContentBlocks(req Request) ([]map[string]interface{}, error) {
	blocks := make([]map[string]interface{}, 0, len(req.Attachments)+1)

	for _, a := range req.Attachments {
		encoded := base64.StdEncoding.EncodeToString(a.Data)
		switch a.MIMEType {
		case "application/pdf":
			blocks = append(blocks, map[string]interface{}{
				"type": "document",
				"source": map[string]interface{}{
					"type":       "base64",
					"media_type": "application/pdf",
					"data":       encoded,
				},
			})
		case "image/jpeg", "image/png":
			blocks = append(blocks, map[string]interface{}{
				"type": "image",
				"source": map[string]interface{}{
					"type":       "base64",
					"media_type": a.MIMEType,
					"data":       encoded,
				},
			})
		default:
			return nil, fmt.Errorf("unsupported attachment type: %s", a.MIMEType)
		}
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "text",
		"text": req.Prompt,
	})
	return blocks, nil
}

// claudeResponse models the Anthropic Messages API response.
type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func parseClaudeResponse(body []byte) (string, error) {
	var resp claudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Content) == 0 {
		return "", fmt.Errorf("empty response from API")
	}

	if resp.StopReason == "max_tokens" {
		return "", fmt.Errorf("output truncated (stop_reason: max_tokens): response exceeded output token limit")
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
