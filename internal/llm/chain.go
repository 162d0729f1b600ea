package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Chain sends a prompt through a list of transports for the same provider,
// moving to the next one when the current one fails. Typical use is a native
// SDK client followed by a plain HTTP fallback.
type Chain struct {
	providers   []Provider
	logger      *zap.Logger
	maxFailures int

	mu           sync.Mutex
	currentIndex int
	failureCount map[int]int
}

// WithFallback chains primary and secondary.
func WithFallback(primary, secondary Provider, logger *zap.Logger) *Chain {
	return NewChain(logger, 3, primary, secondary)
}

// NewChain builds a chain. After maxFailures consecutive failures a member is
// skipped as the starting point until a later member fails too.
func NewChain(logger *zap.Logger, maxFailures int, providers ...Provider) *Chain {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Chain{
		providers:    providers,
		logger:       logger,
		maxFailures:  maxFailures,
		failureCount: make(map[int]int),
	}
}

// Submit tries the current member first. Auth, rate-limit and cancellation
// errors are returned at once so the retry policy can treat them.
func (c *Chain) Submit(ctx context.Context, prompt string) (string, error) {
	if len(c.providers) == 0 {
		return "", fmt.Errorf("empty provider chain")
	}

	start := c.current()
	var lastErr error
	for attempt := 0; attempt < len(c.providers); attempt++ {
		idx := (start + attempt) % len(c.providers)
		provider := c.providers[idx]

		text, err := provider.Submit(ctx, prompt)
		if err == nil {
			c.resetFailureCount(idx)
			return text, nil
		}
		lastErr = err

		switch Classify(err) {
		case KindAuth, KindRateLimit, KindCancelled:
			return "", err
		}
		if ctx.Err() != nil {
			return "", err
		}

		c.logger.Warn("Provider transport failed, trying fallback",
			zap.String("provider", provider.Name()),
			zap.String("model", provider.Model()),
			zap.Int("index", idx),
			zap.Error(err))

		if c.recordFailure(idx) {
			c.switchToNext(idx)
		}
	}
	return "", lastErr
}

func (c *Chain) current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentIndex
}

func (c *Chain) recordFailure(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount[idx]++
	return c.failureCount[idx] >= c.maxFailures
}

func (c *Chain) resetFailureCount(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount[idx] = 0
}

func (c *Chain) switchToNext(from int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentIndex != from {
		return
	}
	c.currentIndex = (from + 1) % len(c.providers)
	c.failureCount[from] = 0
	c.logger.Info("Switching transport",
		zap.Int("from_index", from),
		zap.Int("to_index", c.currentIndex))
}

func (c *Chain) Name() string {
	if len(c.providers) == 0 {
		return ""
	}
	return c.providers[0].Name()
}

func (c *Chain) Model() string {
	if len(c.providers) == 0 {
		return ""
	}
	return c.providers[0].Model()
}

// WithModel rebinds every member; failure history starts fresh.
func (c *Chain) WithModel(model string) Provider {
	members := make([]Provider, len(c.providers))
	for i, p := range c.providers {
		members[i] = p.WithModel(model)
	}
	return NewChain(c.logger, c.maxFailures, members...)
}

// Close closes all members
func (c *Chain) Close() error {
	var errs []error
	for i, p := range c.providers {
		if err := p.Close(); err != nil {
			c.logger.Error("Failed to close provider", zap.Int("index", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
