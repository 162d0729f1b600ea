// Package chat implements the chat-completion provider family: OpenAI and
// every backend that speaks the same /chat/completions protocol.
package chat

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"relevance-service/internal/llm"
	"relevance-service/internal/models"

	"go.uber.org/zap"
)

// Provider ids served by this family.
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure-openai"
	ProviderDeepSeek    = "deepseek"
	ProviderMistral     = "mistral"
	ProviderGroq        = "groq"
	ProviderOpenRouter  = "openrouter"
)

// DefaultBaseURLs are used when the config leaves base_url empty.
var DefaultBaseURLs = map[string]string{
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderDeepSeek:   "https://api.deepseek.com",
	ProviderMistral:    "https://api.mistral.ai",
	ProviderGroq:       "https://api.groq.com/openai/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
}

const (
	defaultMaxTokens          = 10
	reasonerMaxTokens         = 20
	reasoningCompletionTokens = 1024
	defaultAzureAPIVersion    = "2024-02-15-preview"
)

var reasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// Config for the chat client
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	APIVersion  string
	Timeout     time.Duration
	// Headers are added to every request, e.g. OpenRouter attribution.
	Headers map[string]string
}

// ConfigFrom maps a run's provider snapshot onto the client config.
func ConfigFrom(cfg models.ProviderConfig) Config {
	c := Config{
		Provider:    cfg.ProviderID,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		APIVersion:  cfg.APIVersion,
		Timeout:     cfg.Timeout(),
	}
	if cfg.ProviderID == ProviderOpenRouter {
		c.Headers = map[string]string{
			"HTTP-Referer": "https://github.com/relevance-service",
			"X-Title":      "Relevance Service",
		}
	}
	return c
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	Stream              bool          `json:"stream"`
	Temperature         *float64      `json:"temperature,omitempty"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string        `json:"reasoning_effort,omitempty"`
	TopP                float64       `json:"top_p,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Client posts a single user message to a chat-completions endpoint.
type Client struct {
	cfg       Config
	transport *llm.Transport
	logger    *zap.Logger
}

// NewClient creates a new chat client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s model is required", cfg.Provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURLs[cfg.Provider]
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s base url is required", cfg.Provider)
	}
	if cfg.Provider == ProviderAzureOpenAI && cfg.APIVersion == "" {
		cfg.APIVersion = defaultAzureAPIVersion
	}

	return &Client{
		cfg:       cfg,
		transport: llm.NewTransport(cfg.Provider, cfg.Timeout, logger),
		logger:    logger,
	}, nil
}

// New is the registry constructor for the chat family.
func New(cfg models.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	return NewClient(ConfigFrom(cfg), logger)
}

// Submit sends the prompt and returns the first choice's content.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	c.transport.LogPrompt(c.cfg.Model, prompt)

	var resp chatResponse
	if err := c.transport.PostJSON(ctx, c.cfg.Model, c.endpoint(), c.headers(), c.buildRequest(prompt), &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices from %s", llm.ErrUnexpectedResponse, c.cfg.Provider)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("Chat completion received",
		zap.String("provider", c.cfg.Provider),
		zap.String("model", c.cfg.Model),
		zap.String("content", llm.Excerpt(content)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return content, nil
}

func (c *Client) buildRequest(prompt string) chatRequest {
	req := chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	switch {
	case IsReasoningModel(c.cfg.Model):
		req.ReasoningEffort = "low"
		req.MaxCompletionTokens = reasoningCompletionTokens
	case c.cfg.Model == "deepseek-reasoner":
		t := c.cfg.Temperature
		req.Temperature = &t
		req.MaxTokens = reasonerMaxTokens
		req.TopP = 0.95
	default:
		t := c.cfg.Temperature
		req.Temperature = &t
		req.MaxTokens = defaultMaxTokens
	}
	return req
}

func (c *Client) endpoint() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.Provider == ProviderAzureOpenAI {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIVersion))
	}
	if !strings.Contains(base, "/v1") {
		base += "/v1"
	}
	return base + "/chat/completions"
}

func (c *Client) headers() map[string]string {
	h := make(map[string]string, len(c.cfg.Headers)+1)
	for k, v := range c.cfg.Headers {
		h[k] = v
	}
	if c.cfg.Provider == ProviderAzureOpenAI {
		h["api-key"] = c.cfg.APIKey
	} else {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	return h
}

// IsReasoningModel reports whether model rejects temperature in favour of reasoning_effort.
func IsReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range reasoningPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

func (c *Client) Name() string { return c.cfg.Provider }

func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) WithModel(model string) llm.Provider {
	cp := *c
	cp.cfg.Model = model
	return &cp
}

// Close closes the chat client
func (c *Client) Close() error {
	return nil
}
