package gemini

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

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-1.5-flash"
)

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// RESTClient calls generateContent over plain HTTP.
type RESTClient struct {
	cfg       Config
	transport *llm.Transport
}

// NewRESTClient creates the HTTP fallback client
func NewRESTClient(cfg Config, timeout time.Duration, logger *zap.Logger) (*RESTClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModel
	}
	return &RESTClient{cfg: cfg, transport: llm.NewTransport(ProviderID, timeout, logger)}, nil
}

func (c *RESTClient) Submit(ctx context.Context, prompt string) (string, error) {
	c.transport.LogPrompt(c.cfg.ModelName, prompt)

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(strings.TrimPrefix(c.cfg.ModelName, "models/")),
		url.QueryEscape(c.cfg.APIKey))

	body := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{Temperature: c.cfg.Temperature},
	}

	var resp generateResponse
	if err := c.transport.PostJSON(ctx, c.cfg.ModelName, endpoint, nil, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidates from gemini", llm.ErrUnexpectedResponse)
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *RESTClient) Name() string { return ProviderID }

func (c *RESTClient) Model() string { return c.cfg.ModelName }

func (c *RESTClient) WithModel(model string) llm.Provider {
	cp := *c
	cp.cfg.ModelName = model
	return &cp
}

func (c *RESTClient) Close() error { return nil }

// New builds the SDK client with the REST client behind it. If the SDK
// cannot be constructed the REST client serves alone.
func New(cfg models.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	gc := Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		ModelName:   cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout(),
	}

	rest, err := NewRESTClient(gc, gc.Timeout, logger)
	if err != nil {
		return nil, err
	}

	native, err := NewNativeClient(context.Background(), gc, logger)
	if err != nil {
		logger.Warn("Gemini SDK unavailable, using REST only", zap.Error(err))
		return rest, nil
	}
	return llm.WithFallback(native, rest, logger), nil
}
