// Package mock provides a deterministic local provider for development and tests.
package mock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"solvegate/internal/provider"
)

// Provider is a mock completion provider.
type Provider struct {
	name         string
	model        string
	latency      time.Duration
	tokens       int
	staticErr    error
	failAfter    int
	callCount    atomic.Int64
	responseFunc func(provider.Request) (*provider.Response, error)
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:   "mock",
		model:  "mock-model",
		tokens: 100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithTokens sets the token count reported per call.
func WithTokens(n int) Option {
	return func(p *Provider) { p.tokens = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(provider.Request) (*provider.Response, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

// Calls returns how many times Complete was invoked.
func (p *Provider) Calls() int64 { return p.callCount.Load() }

func (p *Provider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	count := p.callCount.Add(1)

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, provider.Wrap(ctx.Err())
		}
	}

	if p.staticErr != nil {
		return nil, provider.Wrap(p.staticErr)
	}
	if p.failAfter > 0 && int(count) > p.failAfter {
		return nil, fmt.Errorf("%w: mock failure after %d calls", provider.ErrUpstream, p.failAfter)
	}
	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return &provider.Response{
		Text:       fmt.Sprintf("Worked solution for %s question: %s", req.Subject, req.Question),
		TokensUsed: p.tokens,
		Model:      p.model,
	}, nil
}
