package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ExcerptRunes bounds the prompt excerpt written to debug logs.
const ExcerptRunes = 120

// Transport posts JSON to provider endpoints and turns non-2xx replies into *APIError.
type Transport struct {
	Provider   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewTransport builds a transport with the given request timeout.
func NewTransport(provider string, timeout time.Duration, logger *zap.Logger) *Transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transport{
		Provider:   provider,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger.With(zap.String("provider", provider)),
	}
}

// PostJSON sends body to url and decodes the reply into out.
func (t *Transport) PostJSON(ctx context.Context, model, url string, headers map[string]string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		t.Logger.Error("Provider request failed", zap.String("model", model), zap.Error(err))
		return fmt.Errorf("%s API error: %w", t.Provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Provider:   t.Provider,
			Model:      model,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
		t.Logger.Error("Provider API error",
			zap.String("model", model),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(respBody), 500)))
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		t.Logger.Error("Failed to parse JSON response",
			zap.Error(err),
			zap.String("body", truncate(string(respBody), 500)))
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

// LogPrompt writes the model id and a prompt excerpt at debug level.
func (t *Transport) LogPrompt(model, prompt string) {
	t.Logger.Debug("Submitting prompt",
		zap.String("model", model),
		zap.String("prompt", Excerpt(prompt)))
}

// Excerpt shortens a prompt to ExcerptRunes runes on a single line.
func Excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return truncate(s, ExcerptRunes)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// JoinURL joins a base URL and path with exactly one slash between them.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
