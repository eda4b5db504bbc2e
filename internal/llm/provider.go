// Package llm is the text-completion bridge used by call_llm actions and
// pipeline prompt steps.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/gobby-stack/gobby/internal/config"
	"github.com/gobby-stack/gobby/internal/executor"
)

// Request is one completion call.
type Request struct {
	Prompt    string
	System    string
	Tools     []string // Tool restriction for the call; empty means unrestricted
	Model     string   // Overrides the provider default
	MaxTokens int64
}

// Provider generates text for a prompt.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Provider.
func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// NewFromConfig builds the provider selected in cfg.
func NewFromConfig(cfg config.LLMConfig, shell *executor.ShellExecutor) (Provider, error) {
	switch cfg.Provider {
	case "", "anthropic":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("llm: %s is not set", cfg.APIKeyEnv)
		}
		return NewAnthropic(AnthropicOptions{
			APIKey:    key,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}), nil
	case "command":
		return &Command{Script: cfg.Command, Timeout: cfg.Timeout, Shell: shell}, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// Unavailable is returned when no provider could be configured. Every call
// fails with the configuration error so callers record it instead of crashing.
type Unavailable struct {
	Err error
}

// Complete implements Provider.
func (u Unavailable) Complete(context.Context, Request) (string, error) {
	return "", fmt.Errorf("llm unavailable: %w", u.Err)
}
