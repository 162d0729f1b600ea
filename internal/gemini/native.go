// Package gemini talks to Google Gemini through the official SDK and falls
// back to the plain REST generateContent endpoint when the SDK call fails.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relevance-service/internal/llm"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ProviderID is the registry key for this family.
const ProviderID = "google"

// Config for Gemini client
type Config struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	Temperature float64
	Timeout     time.Duration
}

// NativeClient wraps the Gemini SDK client
type NativeClient struct {
	client      *genai.Client
	logger      *zap.Logger
	modelName   string
	temperature float64
	timeout     time.Duration
	shared      bool
}

// NewNativeClient creates a new SDK-backed client
func NewNativeClient(ctx context.Context, cfg Config, logger *zap.Logger) (*NativeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModel
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" && cfg.BaseURL != DefaultBaseURL {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized", zap.String("model", cfg.ModelName))

	return &NativeClient{
		client:      client,
		logger:      logger,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

// Submit sends the prompt through the SDK and returns the joined text parts.
func (c *NativeClient) Submit(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug("Submitting prompt",
		zap.String("provider", ProviderID),
		zap.String("model", c.modelName),
		zap.String("prompt", llm.Excerpt(prompt)))

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	model := c.client.GenerativeModel(c.modelName)
	model.SetTemperature(float32(c.temperature))

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		c.logger.Error("Gemini API error", zap.String("model", c.modelName), zap.Error(err))
		return "", c.wrapError(err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response from gemini", llm.ErrUnexpectedResponse)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text parts from gemini", llm.ErrUnexpectedResponse)
	}
	return strings.TrimSpace(sb.String()), nil
}

// wrapError lifts googleapi status codes into the shared APIError so they classify.
func (c *NativeClient) wrapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Message
		if body == "" {
			body = gerr.Body
		}
		return &llm.APIError{Provider: ProviderID, Model: c.modelName, StatusCode: gerr.Code, Body: body}
	}
	return fmt.Errorf("gemini API error: %w", err)
}

func (c *NativeClient) Name() string { return ProviderID }

func (c *NativeClient) Model() string { return c.modelName }

// WithModel shares the underlying SDK client; only the original owns Close.
func (c *NativeClient) WithModel(model string) llm.Provider {
	cp := *c
	cp.modelName = model
	cp.shared = true
	return &cp
}

// Close closes the Gemini client
func (c *NativeClient) Close() error {
	if c.shared {
		return nil
	}
	return c.client.Close()
}
