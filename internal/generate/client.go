// Package generate implements the generic REST-generate provider family: a
// prompt/model/temperature body posted to a vendor endpoint, with the reply
// text read from a configured JSON field.
package generate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relevance-service/internal/llm"
	"relevance-service/internal/models"

	"go.uber.org/zap"
)

// Preset describes one vendor's generate endpoint.
type Preset struct {
	Path string
	// TextFields are dotted paths tried in order, e.g. "generations.0.text".
	TextFields []string
	BearerAuth bool
}

var (
	CoherePreset  = Preset{Path: "/v1/generate", TextFields: []string{"text", "generations.0.text"}, BearerAuth: true}
	OllamaPreset  = Preset{Path: "/api/generate", TextFields: []string{"response"}}
	GenericPreset = Preset{Path: "/v1/generate", TextFields: []string{"text", "response", "output", "generations.0.text"}, BearerAuth: true}
)

// Presets maps provider ids to their endpoint shape.
var Presets = map[string]Preset{
	"cohere":   CoherePreset,
	"ollama":   OllamaPreset,
	"generate": GenericPreset,
}

const maxTokens = 10

// Config for the generate client
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Preset      Preset
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

// Client posts prompts to a REST generate endpoint.
type Client struct {
	cfg       Config
	transport *llm.Transport
}

// NewClient creates a new generate client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s base url is required", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s model is required", cfg.Provider)
	}
	if cfg.Preset.Path == "" {
		cfg.Preset = GenericPreset
	}
	return &Client{cfg: cfg, transport: llm.NewTransport(cfg.Provider, cfg.Timeout, logger)}, nil
}

// New is the registry constructor; the preset is chosen by provider id.
func New(cfg models.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	return NewClient(ConfigFrom(cfg), logger)
}

// ConfigFrom maps a provider snapshot onto the client config.
func ConfigFrom(cfg models.ProviderConfig) Config {
	preset, ok := Presets[cfg.ProviderID]
	if !ok {
		preset = GenericPreset
	}
	return Config{
		Provider:    cfg.ProviderID,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout(),
		Preset:      preset,
	}
}

func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	c.transport.LogPrompt(c.cfg.Model, prompt)

	var headers map[string]string
	if c.cfg.Preset.BearerAuth && c.cfg.APIKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	}

	body := generateRequest{
		Model:       c.cfg.Model,
		Prompt:      prompt,
		Temperature: c.cfg.Temperature,
		MaxTokens:   maxTokens,
	}

	var resp interface{}
	if err := c.transport.PostJSON(ctx, c.cfg.Model, llm.JoinURL(c.cfg.BaseURL, c.cfg.Preset.Path), headers, body, &resp); err != nil {
		return "", err
	}

	for _, field := range c.cfg.Preset.TextFields {
		if text, ok := lookup(resp, field); ok {
			return strings.TrimSpace(text), nil
		}
	}
	return "", fmt.Errorf("%w: none of %v in %s reply", llm.ErrUnexpectedResponse, c.cfg.Preset.TextFields, c.cfg.Provider)
}

// lookup resolves a dotted path of object keys and array indices to a string.
func lookup(v interface{}, path string) (string, bool) {
	for _, key := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]interface{}:
			next, ok := node[key]
			if !ok {
				return "", false
			}
			v = next
		case []interface{}:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return "", false
			}
			v = node[i]
		default:
			return "", false
		}
	}
	s, ok := v.(string)
	return s, ok
}

func (c *Client) Name() string { return c.cfg.Provider }

func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) WithModel(model string) llm.Provider {
	cp := *c
	cp.cfg.Model = model
	return &cp
}

func (c *Client) Close() error { return nil }
