// Package llm provides direct API clients for the fix loop and queue
// handlers. The web-chat driver covers interactive use; these clients cover
// unattended runs where an API key is available.
package llm

import (
	"context"
	"fmt"
	"time"

	"drover/internal/config"
)

// Client is the completion surface drover consumes.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// Options configures a client independent of provider.
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// New builds a Client for the configured provider.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	opts := Options{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.GetLLMTimeout(),
	}

	switch cfg.LLM.Provider {
	case "anthropic":
		return NewAnthropicClient(opts), nil
	case "gemini":
		return NewGeminiClient(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (valid: %v)",
			cfg.LLM.Provider, config.ValidProviders)
	}
}
