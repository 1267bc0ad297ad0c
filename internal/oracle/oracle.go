// Package oracle talks to the hosted language models that read the referral
// and form documents. The pipeline only sees the Oracle interface.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Attachment is a binary document sent alongside the prompt
type Attachment struct {
	Data     []byte
	MIMEType string
}

// PDF wraps data as a PDF attachment
func PDF(data []byte) Attachment {
	return Attachment{Data: data, MIMEType: "application/pdf"}
}

// Request is one oracle invocation. Attachments are sent in order, before
// the prompt. An empty Model selects the client's default.
type Request struct {
	Model       string
	Attachments []Attachment
	Prompt      string
}

// Oracle answers a prompt about attached documents with free text
type Oracle interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Func adapts an ordinary function to the Oracle interface
type Func func(ctx context.Context, req Request) (string, error)

// Invoke calls f
func (f Func) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Provider names accepted by New
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// ClientConfig holds the settings shared by the HTTP clients
type ClientConfig struct {
	APIKey string
	// DefaultModel is used when a Request leaves Model empty.
	DefaultModel string
	// Endpoint overrides the provider URL: the models base URL for Gemini,
	// the messages URL for Claude.
	Endpoint string
	Timeout  time.Duration
	Logger   *slog.Logger
}

func (c ClientConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c ClientConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 120 * time.Second
}

// New builds the client for a provider name
func New(provider string, cfg ClientConfig) (Oracle, error) {
	switch strings.ToLower(provider) {
	case ProviderGemini:
		return NewGemini(cfg), nil
	case ProviderClaude:
		return NewClaude(cfg), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q (valid: %s, %s)", provider, ProviderGemini, ProviderClaude)
	}
}

func supportedMIMEType(mimeType string) bool {
	switch mimeType {
	case "application/pdf", "image/png", "image/jpeg":
		return true
	default:
		return false
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
