// Package retry wraps provider calls with bounded backoff, rate-limit waits,
// a single model-fallback substitution and an immediate stop on auth errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relevance-service/internal/llm"

	goretry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

var (
	// ErrExhausted is returned once MaxAttempts retryable failures have occurred.
	ErrExhausted = errors.New("retry attempts exhausted")
	// ErrModelUnavailable means the model and its fallback were both rejected.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Defaults for a zero Policy.
const (
	DefaultTransientDelay = 2 * time.Second
	DefaultRateLimitDelay = 20 * time.Second
	DefaultMaxDelay       = 60 * time.Second
	DefaultMaxAttempts    = 6
)

// Policy configures how one provider call is retried.
type Policy struct {
	TransientDelay time.Duration `yaml:"transient_delay"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	// FallbackModel replaces a model the provider rejects, once per call.
	FallbackModel string `yaml:"-"`

	Logger *zap.Logger `yaml:"-"`
}

// DefaultPolicy returns the production delays.
func DefaultPolicy() Policy {
	return Policy{
		TransientDelay: DefaultTransientDelay,
		RateLimitDelay: DefaultRateLimitDelay,
		MaxDelay:       DefaultMaxDelay,
		MaxAttempts:    DefaultMaxAttempts,
	}
}

// WithDefaults fills unset fields.
func (p Policy) WithDefaults() Policy {
	if p.TransientDelay <= 0 {
		p.TransientDelay = DefaultTransientDelay
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = DefaultRateLimitDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return p
}

// Outcome describes a finished call.
type Outcome struct {
	Text         string
	Attempts     int
	Model        string
	FallbackUsed bool
}

// Submit sends prompt through provider under the policy.
func (p Policy) Submit(ctx context.Context, provider llm.Provider, prompt string) (Outcome, error) {
	p = p.WithDefaults()
	out := Outcome{Model: provider.Model()}
	current := provider
	backoff := newKindBackoff(p)

	var lastErr error
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		out.Attempts++
		text, err := current.Submit(ctx, prompt)
		if err == nil {
			out.Text = text
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind := llm.Classify(err)
		log := p.Logger.With(
			zap.String("provider", current.Name()),
			zap.String("model", current.Model()),
			zap.Int("attempt", out.Attempts),
			zap.Stringer("kind", kind),
			zap.Error(err))

		switch kind {
		case llm.KindCancelled:
			return err
		case llm.KindAuth:
			log.Error("Authentication failed, not retrying")
			return fmt.Errorf("authentication failed: %w", err)
		case llm.KindModelNotFound:
			if out.FallbackUsed || p.FallbackModel == "" || p.FallbackModel == current.Model() {
				log.Warn("Model unavailable and no fallback left")
				return fmt.Errorf("%w: %s: %v", ErrModelUnavailable, current.Model(), err)
			}
			log.Warn("Model not found, switching to fallback", zap.String("fallback", p.FallbackModel))
			current = current.WithModel(p.FallbackModel)
			out.FallbackUsed = true
			out.Model = p.FallbackModel
			backoff.immediate = true
			return goretry.RetryableError(err)
		case llm.KindRateLimit:
			log.Warn("Rate limited, waiting", zap.Duration("delay", p.RateLimitDelay))
		default:
			log.Warn("Provider call failed, retrying")
		}
		backoff.kind = kind
		return goretry.RetryableError(err)
	})

	switch {
	case err == nil:
		return out, nil
	case backoff.exhausted:
		return out, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, out.Attempts, lastErr)
	default:
		return out, err
	}
}

// kindBackoff chooses the delay from the class of the last failure: the fixed
// rate-limit delay, or capped exponential growth for everything else.
type kindBackoff struct {
	policy      Policy
	exponential goretry.Backoff
	kind        llm.ErrorKind
	immediate   bool
	failures    int
	exhausted   bool
}

func newKindBackoff(p Policy) *kindBackoff {
	exp := goretry.NewExponential(p.TransientDelay)
	exp = goretry.WithCappedDuration(p.MaxDelay, exp)
	return &kindBackoff{policy: p, exponential: exp}
}

func (b *kindBackoff) Next() (time.Duration, bool) {
	if b.immediate {
		b.immediate = false
		return 0, false
	}

	b.failures++
	if b.failures >= b.policy.MaxAttempts {
		b.exhausted = true
		return 0, true
	}

	if b.kind == llm.KindRateLimit {
		d := b.policy.RateLimitDelay
		if d > b.policy.MaxDelay {
			d = b.policy.MaxDelay
		}
		return d, false
	}
	return b.exponential.Next()
}
