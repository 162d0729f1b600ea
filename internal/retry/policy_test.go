package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"relevance-service/internal/llm"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() Policy {
	return Policy{
		TransientDelay: time.Millisecond,
		RateLimitDelay: 2 * time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		MaxAttempts:    4,
		Logger:         zap.NewNop(),
	}
}

// scripted returns the queued errors in order, then succeeds with "6".
func scripted(errs ...error) (*llm.FuncProvider, *[]string) {
	var models []string
	i := 0
	return &llm.FuncProvider{ProviderName: "stub", ModelName: "primary", Fn: func(_ context.Context, model, _ string) (string, error) {
		models = append(models, model)
		if i < len(errs) {
			err := errs[i]
			i++
			return "", err
		}
		return "6", nil
	}}, &models
}

func TestTransientErrorsAreRetried(t *testing.T) {
	p, calls := scripted(errors.New("connection reset"), &llm.APIError{StatusCode: 502})

	out, err := fastPolicy().Submit(context.Background(), p, "x")
	require.NoError(t, err)
	require.Equal(t, "6", out.Text)
	require.Equal(t, 3, out.Attempts)
	require.Len(t, *calls, 3)
}

func TestRateLimitIsRetried(t *testing.T) {
	p, _ := scripted(&llm.APIError{StatusCode: 429}, errors.New("rate limit exceeded"))

	out, err := fastPolicy().Submit(context.Background(), p, "x")
	require.NoError(t, err)
	require.Equal(t, 3, out.Attempts)
}

func TestRetriesAreBounded(t *testing.T) {
	p := &llm.FuncProvider{ProviderName: "stub", ModelName: "m", Fn: func(context.Context, string, string) (string, error) {
		return "", errors.New("server unavailable")
	}}

	out, err := fastPolicy().Submit(context.Background(), p, "x")
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 4, out.Attempts)
}

func TestAuthIsNotRetried(t *testing.T) {
	p, calls := scripted(&llm.APIError{StatusCode: 401, Body: "invalid api key"})

	_, err := fastPolicy().Submit(context.Background(), p, "x")
	require.Error(t, err)
	require.Equal(t, llm.KindAuth, llm.Classify(err))
	require.Len(t, *calls, 1)
}

func TestModelFallbackSubstitutedOnce(t *testing.T) {
	notFound := &llm.APIError{StatusCode: 404, Body: "model not found"}
	p, calls := scripted(notFound)

	pol := fastPolicy()
	pol.FallbackModel = "backup"
	out, err := pol.Submit(context.Background(), p, "x")
	require.NoError(t, err)
	require.True(t, out.FallbackUsed)
	require.Equal(t, "backup", out.Model)
	require.Equal(t, []string{"primary", "backup"}, *calls)
	require.Equal(t, "primary", p.Model())
}

func TestFallbackModelAlsoFails(t *testing.T) {
	notFound := &llm.APIError{StatusCode: 404, Body: "model not found"}
	p, calls := scripted(notFound, notFound)

	pol := fastPolicy()
	pol.FallbackModel = "backup"
	out, err := pol.Submit(context.Background(), p, "x")
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.True(t, out.FallbackUsed)
	require.Len(t, *calls, 2)
}

func TestModelNotFoundWithoutFallback(t *testing.T) {
	p, calls := scripted(&llm.APIError{StatusCode: 404, Body: "model not found"})

	_, err := fastPolicy().Submit(context.Background(), p, "x")
	require.ErrorIs(t, err, ErrModelUnavailable)
	require.Len(t, *calls, 1)
}

func TestCancelledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &llm.FuncProvider{ProviderName: "stub", ModelName: "m", Fn: func(context.Context, string, string) (string, error) {
		cancel()
		return "", &llm.APIError{StatusCode: 429}
	}}

	pol := fastPolicy()
	pol.RateLimitDelay = time.Hour
	pol.MaxDelay = time.Hour

	start := time.Now()
	_, err := pol.Submit(ctx, p, "x")
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestBackoffDelays(t *testing.T) {
	b := newKindBackoff(Policy{TransientDelay: time.Second, RateLimitDelay: 20 * time.Second, MaxDelay: 3 * time.Second, MaxAttempts: 10}.WithDefaults())

	d, stop := b.Next()
	require.False(t, stop)
	require.Equal(t, time.Second, d)

	d, _ = b.Next()
	require.Equal(t, 2*time.Second, d)

	d, _ = b.Next()
	require.Equal(t, 3*time.Second, d)

	b.kind = llm.KindRateLimit
	d, _ = b.Next()
	require.Equal(t, 3*time.Second, d)
}

func TestWithDefaults(t *testing.T) {
	p := Policy{}.WithDefaults()
	require.Equal(t, DefaultTransientDelay, p.TransientDelay)
	require.Equal(t, DefaultRateLimitDelay, p.RateLimitDelay)
	require.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	require.NotNil(t, p.Logger)
}
