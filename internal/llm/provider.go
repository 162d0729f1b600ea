// Package llm defines the provider capability shared by every backend family,
// the error taxonomy the retry policy works from, and the wrappers that sit
// between the scorer and a concrete client.
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"relevance-service/internal/models"

	"go.uber.org/zap"
)

// Provider returns the raw completion text for a rendered prompt.
type Provider interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Name() string
	Model() string
	// WithModel returns a provider bound to another model; the receiver is unchanged.
	WithModel(model string) Provider
	Close() error
}

// Constructor builds a provider from a run's config snapshot.
type Constructor func(cfg models.ProviderConfig, logger *zap.Logger) (Provider, error)

// Registry resolves provider ids to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	logger       *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		logger:       logger,
	}
}

// Register binds one or more provider ids to a constructor.
func (r *Registry) Register(c Constructor, ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.constructors[id] = c
	}
}

// IDs lists the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New resolves the provider variant once for a run. A positive
// RequestsPerMinute wraps the client in a token bucket.
func (r *Registry) New(cfg models.ProviderConfig) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}

	r.mu.RLock()
	ctor, ok := r.constructors[cfg.ProviderID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.ProviderID)
	}

	provider, err := ctor(cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.ProviderID, err)
	}

	if cfg.RequestsPerMinute > 0 {
		provider = NewRateLimitedProvider(provider, cfg.RequestsPerMinute, r.logger)
	}

	r.logger.Info("Provider initialized",
		zap.String("provider", cfg.ProviderID),
		zap.String("model", cfg.Model),
		zap.Int("rate_limit", cfg.RequestsPerMinute))

	return provider, nil
}

// FuncProvider adapts a function into a Provider. Handy for stubs.
type FuncProvider struct {
	ProviderName string
	ModelName    string
	Fn           func(ctx context.Context, model, prompt string) (string, error)
}

func (p *FuncProvider) Submit(ctx context.Context, prompt string) (string, error) {
	return p.Fn(ctx, p.ModelName, prompt)
}

func (p *FuncProvider) Name() string { return p.ProviderName }
func (p *FuncProvider) Model() string { return p.ModelName }
func (p *FuncProvider) Close() error { return nil }

func (p *FuncProvider) WithModel(model string) Provider {
	cp := *p
	cp.ModelName = model
	return &cp
}
