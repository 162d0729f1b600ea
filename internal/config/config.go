package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"relevance-service/internal/models"
	"relevance-service/internal/retry"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is read when neither an explicit path nor $RELEVANCE_CONFIG is set.
	DefaultPath = "configs/config.yml"
	// PathEnv overrides the config file location.
	PathEnv = "RELEVANCE_CONFIG"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`

		// JWTSecret enables bearer-token auth on /api/v1 when set.
		JWTSecret string `yaml:"jwt_secret"`

		// DataDir confines input_path and output_path of API runs. Empty
		// disables server-side paths.
		DataDir string `yaml:"data_dir"`
	} `yaml:"server"`

	Logging LoggingConfig `yaml:"logging"`

	Database struct {
		Path string `yaml:"path"` // SQLite file
	} `yaml:"database"`

	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	ActiveProvider string                      `yaml:"active_provider"`
	Providers      map[string]ProviderSettings `yaml:"providers"`

	Scoring ScoringConfig `yaml:"scoring"`
	Retry   retry.Policy  `yaml:"retry"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// ProviderSettings is one entry of the provider catalog.
type ProviderSettings struct {
	APIKey            string   `yaml:"api_key" json:"-"`
	BaseURL           string   `yaml:"base_url" json:"base_url"`
	ActiveModel       string   `yaml:"active_model" json:"active_model"`
	AvailableModels   []string `yaml:"available_models" json:"available_models"`
	FallbackModel     string   `yaml:"fallback_model" json:"fallback_model,omitempty"`
	RequestsPerMinute int      `yaml:"requests_per_minute" json:"requests_per_minute,omitempty"`
	APIVersion        string   `yaml:"api_version" json:"api_version,omitempty"`
}

// ScoringConfig holds run defaults; every field can be overridden per run.
type ScoringConfig struct {
	Threshold      int                  `yaml:"threshold"`
	Iterations     int                  `yaml:"iterations"`
	MaxRecords     int                  `yaml:"max_records"`
	Temperature    float64              `yaml:"temperature"`
	TimeoutSeconds int                  `yaml:"timeout_seconds"`
	PromptTemplate string               `yaml:"prompt_template"`
	Columns        models.ColumnMapping `yaml:"columns"`
}

// DefaultProviders is the built-in catalog.
func DefaultProviders() map[string]ProviderSettings {
	return map[string]ProviderSettings{
		"openai": {
			ActiveModel:     "gpt-4.1",
			AvailableModels: []string{"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano", "o1", "o1-mini", "o3-mini", "o1-pro"},
			FallbackModel:   "gpt-4.1-mini",
		},
		"anthropic": {
			BaseURL:     "https://api.anthropic.com",
			ActiveModel: "claude-3-7-sonnet-20250219",
			AvailableModels: []string{
				"claude-3-7-sonnet-20250219",
				"claude-3-5-sonnet-20241022",
				"claude-3-5-haiku-20241022",
				"claude-3-5-sonnet-20240620",
				"claude-3-haiku-20240307",
				"claude-3-opus-20240229",
			},
			FallbackModel: "claude-3-5-sonnet-20241022",
		},
		"google": {
			BaseURL:     "https://generativelanguage.googleapis.com",
			ActiveModel: "gemini-1.5-flash",
			AvailableModels: []string{
				"gemini-2.5-flash-preview-05-20",
				"gemini-2.5-pro-preview-05-06",
				"gemini-2.0-flash",
				"gemini-2.0-flash-lite",
				"gemini-1.5-flash",
				"gemini-1.5-flash-8b",
				"gemini-1.5-pro",
			},
			FallbackModel: "gemini-1.5-flash",
		},
		"deepseek": {
			BaseURL:         "https://api.deepseek.com",
			ActiveModel:     "deepseek-chat",
			AvailableModels: []string{"deepseek-reasoner", "deepseek-chat", "deepseek-coder", "deepseek-llm-67b-chat"},
		},
		"mistral": {
			BaseURL:         "https://api.mistral.ai",
			ActiveModel:     "mistral-large-latest",
			AvailableModels: []string{"mistral-large-latest", "mistral-medium-latest", "mistral-small-latest", "open-mistral-7b"},
		},
		"cohere": {
			BaseURL:         "https://api.cohere.ai",
			ActiveModel:     "command-r-plus",
			AvailableModels: []string{"command-r-plus", "command-r", "command-light"},
		},
		"azure-openai": {
			ActiveModel:     "gpt-4",
			AvailableModels: []string{"gpt-4", "gpt-4-turbo", "gpt-35-turbo"},
			APIVersion:      "2024-02-15-preview",
		},
	}
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from YAML file. A .env file in the working
// directory is loaded first. An empty path falls back to $RELEVANCE_CONFIG
// and then to DefaultPath; only a missing DefaultPath is tolerated.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	explicit := true
	if configPath == "" {
		configPath = os.Getenv(PathEnv)
	}
	if configPath == "" {
		configPath = DefaultPath
		explicit = false
	}

	config := &Config{}

	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config.applyDefaults()
	config.resolveKeys()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8002"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/relevance.db"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "relevance:events"
	}
	if c.ActiveProvider == "" {
		c.ActiveProvider = "openai"
	}

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderSettings)
	}
	for id, def := range DefaultProviders() {
		p, ok := c.Providers[id]
		if !ok {
			c.Providers[id] = def
			continue
		}
		if p.BaseURL == "" {
			p.BaseURL = def.BaseURL
		}
		if p.ActiveModel == "" {
			p.ActiveModel = def.ActiveModel
		}
		if len(p.AvailableModels) == 0 {
			p.AvailableModels = def.AvailableModels
		}
		if p.APIVersion == "" {
			p.APIVersion = def.APIVersion
		}
		c.Providers[id] = p
	}

	if c.Scoring.Threshold == 0 {
		c.Scoring.Threshold = models.DefaultScore
	}
	if c.Scoring.Iterations == 0 {
		c.Scoring.Iterations = 1
	}
	if c.Scoring.Temperature == 0 {
		c.Scoring.Temperature = 0.2
	}
	if c.Scoring.TimeoutSeconds == 0 {
		c.Scoring.TimeoutSeconds = 30
	}
	c.Scoring.Columns = c.Scoring.Columns.WithDefaults()

	logger := c.Retry.Logger
	c.Retry = c.Retry.WithDefaults()
	c.Retry.Logger = logger
}

// resolveKeys expands ${VAR} references and falls back to <ID>_API_KEY.
func (c *Config) resolveKeys() {
	for id, p := range c.Providers {
		p.APIKey = os.ExpandEnv(p.APIKey)
		if p.APIKey == "" {
			p.APIKey = os.Getenv(KeyEnv(id))
		}
		c.Providers[id] = p
	}
	c.Redis.Password = os.ExpandEnv(c.Redis.Password)
	c.Server.JWTSecret = os.ExpandEnv(c.Server.JWTSecret)
	c.Server.DataDir = os.ExpandEnv(c.Server.DataDir)
	c.Postgres.URL = os.ExpandEnv(c.Postgres.URL)
}

// KeyEnv is the environment variable consulted for a provider's key,
// e.g. AZURE_OPENAI_API_KEY.
func KeyEnv(providerID string) string {
	return strings.ToUpper(strings.ReplaceAll(providerID, "-", "_")) + "_API_KEY"
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, ok := c.Providers[c.ActiveProvider]; !ok {
		return fmt.Errorf("active provider %q is not configured", c.ActiveProvider)
	}
	if c.Scoring.Threshold < models.MinScore || c.Scoring.Threshold > models.MaxScore {
		return fmt.Errorf("scoring.threshold %d out of range [%d,%d]", c.Scoring.Threshold, models.MinScore, models.MaxScore)
	}
	if c.Scoring.Iterations < 1 {
		return fmt.Errorf("scoring.iterations must be at least 1")
	}
	if c.Scoring.Temperature < 0 || c.Scoring.Temperature > 1 {
		return fmt.Errorf("scoring.temperature %.2f out of range [0,1]", c.Scoring.Temperature)
	}
	return nil
}

// ErrPathNotAllowed is returned for API paths outside server.data_dir.
var ErrPathNotAllowed = errors.New("path not allowed")

// DataPath resolves a client-supplied relative path under server.data_dir.
func (c *Config) DataPath(p string) (string, error) {
	if c.Server.DataDir == "" {
		return "", fmt.Errorf("%w: server.data_dir is not configured", ErrPathNotAllowed)
	}
	if p == "" || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", fmt.Errorf("%w: %q must be relative to the data directory", ErrPathNotAllowed, p)
	}

	root, err := filepath.Abs(c.Server.DataDir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, p)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the data directory", ErrPathNotAllowed, p)
	}
	return full, nil
}

// ProviderIDs lists the configured providers in sorted order.
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProviderConfig snapshots one provider for a run. An empty id selects the
// active provider and an empty model selects its active model.
func (c *Config) ProviderConfig(id, model string) (models.ProviderConfig, error) {
	if id == "" {
		id = c.ActiveProvider
	}
	p, ok := c.Providers[id]
	if !ok {
		return models.ProviderConfig{}, fmt.Errorf("provider %q is not configured", id)
	}
	if model == "" {
		model = p.ActiveModel
	}
	return models.ProviderConfig{
		ProviderID:        id,
		APIKey:            p.APIKey,
		BaseURL:           p.BaseURL,
		Model:             model,
		FallbackModel:     p.FallbackModel,
		Temperature:       c.Scoring.Temperature,
		TimeoutSeconds:    c.Scoring.TimeoutSeconds,
		APIVersion:        p.APIVersion,
		RequestsPerMinute: p.RequestsPerMinute,
	}, nil
}

// NewLogger builds the process logger: development output by default,
// production JSON when format is "json".
func NewLogger(lc LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}

	var zc zap.Config
	if lc.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
