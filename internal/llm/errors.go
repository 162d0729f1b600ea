package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnknownProvider is returned when no variant is registered for an id.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnexpectedResponse marks a reply whose JSON shape could not be read.
	ErrUnexpectedResponse = errors.New("unexpected response shape")
)

// APIError is a non-2xx reply from a provider endpoint.
type APIError struct {
	Provider   string
	Model      string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s API returned status %d for model %s: %s", e.Provider, e.StatusCode, e.Model, body)
}

// ErrorKind is the retry-relevant class of a provider error.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransient
	KindRateLimit
	KindModelNotFound
	KindAuth
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindRateLimit:
		return "rate_limit"
	case KindModelNotFound:
		return "model_not_found"
	case KindAuth:
		return "auth"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

var (
	rateLimitHints = []string{"429", "rate limit", "rate_limit", "ratelimit", "too many requests", "quota", "resource_exhausted", "resource exhausted"}
	modelHints     = []string{"model not found", "model_not_found", "unsupported model", "model is not supported", "model not supported", "invalid model", "model parameter", "unknown model", "no such model", "does not exist"}
	authHints      = []string{"invalid api key", "invalid_api_key", "incorrect api key", "api key not valid", "unauthorized", "authentication", "permission denied", "permission_denied", "forbidden"}
)

// Classify maps any provider error onto the retry taxonomy. A per-request
// timeout is transient; only cancellation of the caller's context is KindCancelled.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	msg := strings.ToLower(err.Error())
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg = strings.ToLower(apiErr.Body)
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return KindRateLimit
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindAuth
		case http.StatusNotFound:
			if strings.Contains(msg, "model") {
				return KindModelNotFound
			}
			return KindTransient
		}
		if apiErr.StatusCode >= 500 {
			if containsAny(msg, rateLimitHints) {
				return KindRateLimit
			}
			return KindTransient
		}
	}

	switch {
	case containsAny(msg, rateLimitHints):
		return KindRateLimit
	case containsAny(msg, authHints):
		return KindAuth
	case containsAny(msg, modelHints) && strings.Contains(msg, "model"):
		return KindModelNotFound
	case strings.Contains(msg, "not supported") && strings.Contains(msg, "model"):
		return KindModelNotFound
	}
	return KindTransient
}

// IsRateLimit reports whether err signals throttling.
func IsRateLimit(err error) bool {
	return Classify(err) == KindRateLimit
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
