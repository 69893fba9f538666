package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"solvegate/internal/config"
	"solvegate/internal/provider"
	"solvegate/internal/provider/gemini"
	"solvegate/internal/provider/mock"
	"solvegate/internal/provider/openaicompat"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// newProvider builds the completion provider named by PROVIDER
func newProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		baseURL := cfg.ProviderBaseURL
		if baseURL == "" {
			baseURL = defaultOpenAIBaseURL
		}
		model := cfg.ProviderModel
		if model == "" {
			model = defaultOpenAIModel
		}
		return openaicompat.New(baseURL, cfg.ProviderAPIKey, model,
			openaicompat.WithMaxResponseBytes(cfg.MaxResponseBytes),
		), nil
	case "gemini":
		return gemini.New(ctx, gemini.Config{
			APIKey:  cfg.ProviderAPIKey,
			Model:   cfg.ProviderModel,
			BaseURL: cfg.ProviderBaseURL,
		})
	case "mock":
		return mock.New(mock.WithLatency(200 * time.Millisecond)), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
