package genai

import (
	"context"
	"fmt"
)

// Supported model providers.
const (
	ProviderGoogleAI  = "googleai"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	default:
		return "gemini-2.0-flash"
	}
}

// ProviderConfig selects and configures a model backend.
type ProviderConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float64
}

// NewGenerator builds the generator for cfg.Provider.
func NewGenerator(ctx context.Context, cfg ProviderConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel(cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderGoogleAI:
		return NewGoogleAI(ctx, cfg.APIKey, model, cfg.Temperature)
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, model, cfg.Temperature)
	case ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, model, cfg.Temperature), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
