// Package openaicompat adapts any OpenAI-compatible chat completions API.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"solvegate/internal/provider"
)

const defaultMaxResponseBytes = 1 << 20

// Provider is an OpenAI-compatible completion adapter
type Provider struct {
	name             string
	baseURL          string
	model            string
	httpClient       *http.Client
	maxResponseBytes int64
	estimate         provider.Estimator
}

var _ provider.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithName overrides the reported provider name (default "openai").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient sets the client used for requests. It must add authorization itself.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithMaxResponseBytes caps the response body size.
func WithMaxResponseBytes(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxResponseBytes = n
		}
	}
}

// WithEstimator sets the token estimator used when the upstream omits usage.
func WithEstimator(e provider.Estimator) Option {
	return func(p *Provider) { p.estimate = e }
}

// New creates a provider that authenticates with apiKey as a bearer token.
func New(baseURL, apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		name:             "openai",
		baseURL:          strings.TrimRight(baseURL, "/"),
		model:            model,
		httpClient:       oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})),
		maxResponseBytes: defaultMaxResponseBytes,
		estimate:         provider.TiktokenEstimator(model),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

type apiRequest struct {
	Model     string       `json:"model"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

// apiMessage content is either a string or a list of content parts
type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) buildRequest(req provider.Request) apiRequest {
	userText := provider.UserPrompt(req.Subject, req.Question)

	var userContent any = userText
	if req.Image != nil && len(req.Image.Data) > 0 {
		userContent = []contentPart{
			{Type: "text", Text: userText},
			{Type: "image_url", ImageURL: &imageURL{
				URL: "data:" + req.Image.MimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data),
			}},
		}
	}

	return apiRequest{
		Model: p.model,
		Messages: []apiMessage{
			{Role: "system", Content: provider.SystemPromptOrDefault(req.SystemPrompt)},
			{Role: "user", Content: userContent},
		},
		MaxTokens: req.MaxTokens,
	}
}

// Complete sends one chat completion request.
func (p *Provider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.Wrap(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", provider.ErrUpstream, httpResp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, p.maxResponseBytes+1))
	if err != nil {
		return nil, provider.Wrap(err)
	}
	if int64(len(raw)) > p.maxResponseBytes {
		return nil, provider.ErrResponseTooLarge
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", provider.ErrUpstream, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: empty completion", provider.ErrUpstream)
	}

	text := resp.Choices[0].Message.Content
	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	if tokens == 0 {
		tokens = p.estimate(provider.SystemPromptOrDefault(req.SystemPrompt)) +
			p.estimate(provider.UserPrompt(req.Subject, req.Question)) +
			p.estimate(text)
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &provider.Response{Text: text, TokensUsed: tokens, Model: model}, nil
}
