// Package anthropic implements the message-style provider over the Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relevance-service/internal/llm"
	"relevance-service/internal/models"

	"go.uber.org/zap"
)

const (
	ProviderID     = "anthropic"
	DefaultBaseURL = "https://api.anthropic.com"
	APIVersion     = "2023-06-01"
	maxTokens      = 10
)

// Config for Anthropic client
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type messageRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Client posts one user message to /v1/messages.
type Client struct {
	cfg       Config
	transport *llm.Transport
}

// NewClient creates a new Anthropic client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{cfg: cfg, transport: llm.NewTransport(ProviderID, cfg.Timeout, logger)}, nil
}

// New is the registry constructor.
func New(cfg models.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	return NewClient(Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout(),
	}, logger)
}

func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	c.transport.LogPrompt(c.cfg.Model, prompt)

	body := messageRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
		Messages:    []message{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": APIVersion,
	}

	var resp messageResponse
	if err := c.transport.PostJSON(ctx, c.cfg.Model, llm.JoinURL(c.cfg.BaseURL, "/v1/messages"), headers, body, &resp); err != nil {
		return "", err
	}
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("%w: no text block from anthropic", llm.ErrUnexpectedResponse)
}

func (c *Client) Name() string { return ProviderID }

func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) WithModel(model string) llm.Provider {
	cp := *c
	cp.cfg.Model = model
	return &cp
}

func (c *Client) Close() error { return nil }
