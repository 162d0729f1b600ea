// Package cohere wires the Cohere SDK as the primary transport for the cohere
// provider, with the REST generate client as fallback.
package cohere

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"relevance-service/internal/generate"
	"relevance-service/internal/llm"
	"relevance-service/internal/models"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/core"
	"go.uber.org/zap"
)

const (
	ProviderID     = "cohere"
	DefaultBaseURL = "https://api.cohere.ai"
	DefaultModel   = "command-r-plus"
	maxTokens      = 10
)

// Chatter is the slice of the SDK client used here.
type Chatter interface {
	Chat(ctx context.Context, request *cohere.ChatRequest, opts ...core.RequestOption) (*cohere.NonStreamedChatResponse, error)
}

// Client sends prompts through the SDK chat endpoint.
type Client struct {
	chat        Chatter
	model       string
	temperature float64
	logger      *zap.Logger
}

// NewClient builds an SDK-backed client.
func NewClient(apiKey, model string, temperature float64, hc *http.Client, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("cohere API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	sdk := cohereclient.NewClient(
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(hc),
	)
	return NewWithChatter(sdk, model, temperature, logger), nil
}

// NewWithChatter wraps any Chatter; tests pass a stub.
func NewWithChatter(chat Chatter, model string, temperature float64, logger *zap.Logger) *Client {
	return &Client{chat: chat, model: model, temperature: temperature, logger: logger}
}

func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug("Submitting prompt",
		zap.String("provider", ProviderID),
		zap.String("model", c.model),
		zap.String("prompt", llm.Excerpt(prompt)))

	model := c.model
	temperature := c.temperature
	tokens := maxTokens
	resp, err := c.chat.Chat(ctx, &cohere.ChatRequest{
		Message:     prompt,
		Model:       &model,
		Temperature: &temperature,
		MaxTokens:   &tokens,
	})
	if err != nil {
		c.logger.Error("Cohere API error", zap.String("model", c.model), zap.Error(err))
		return "", c.wrapError(err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("%w: empty text from cohere", llm.ErrUnexpectedResponse)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *Client) wrapError(err error) error {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return &llm.APIError{Provider: ProviderID, Model: c.model, StatusCode: apiErr.StatusCode, Body: err.Error()}
	}
	return fmt.Errorf("cohere API error: %w", err)
}

func (c *Client) Name() string { return ProviderID }

func (c *Client) Model() string { return c.model }

func (c *Client) WithModel(model string) llm.Provider {
	cp := *c
	cp.model = model
	return &cp
}

func (c *Client) Close() error { return nil }

// New is the registry constructor: SDK first, REST generate second.
func New(cfg models.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	native, err := NewClient(cfg.APIKey, cfg.Model, cfg.Temperature, &http.Client{Timeout: cfg.Timeout()}, logger)
	if err != nil {
		return nil, err
	}

	rest, err := generate.NewClient(generate.Config{
		Provider:    ProviderID,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout(),
		Preset:      generate.CoherePreset,
	}, logger)
	if err != nil {
		return nil, err
	}

	return llm.WithFallback(native, rest, logger), nil
}
