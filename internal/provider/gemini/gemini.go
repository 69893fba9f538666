// Package gemini adapts the Google Gemini API through the genai SDK.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"solvegate/internal/provider"
)

// Config configures the Gemini provider.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // optional, overrides the API endpoint
	HTTPClient *http.Client
}

// Provider is the Gemini completion adapter.
type Provider struct {
	client *genai.Client
	model  string
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Gemini provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/"}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

func (p *Provider) Name() string { return "gemini" }

// Complete generates one answer.
func (p *Provider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	parts := []*genai.Part{{Text: provider.UserPrompt(req.Subject, req.Question)}}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: req.Image.MimeType, Data: req.Image.Data},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: provider.SystemPromptOrDefault(req.SystemPrompt)}},
		},
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, provider.Wrap(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: empty gemini response", provider.ErrUpstream)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: empty gemini response", provider.ErrUpstream)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if tokens == 0 {
		tokens = provider.ApproxTokens(provider.UserPrompt(req.Subject, req.Question)) + provider.ApproxTokens(text.String())
	}

	model := resp.ModelVersion
	if model == "" {
		model = p.model
	}
	return &provider.Response{Text: text.String(), TokensUsed: tokens, Model: model}, nil
}
