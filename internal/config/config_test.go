package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigMergesCatalog(t *testing.T) {
	t.Setenv("MY_ANTHROPIC_KEY", "sk-ant-test")
	t.Setenv("MISTRAL_API_KEY", "mistral-from-env")

	path := writeConfig(t, `
server:
  port: "9000"
active_provider: anthropic
providers:
  anthropic:
    api_key: ${MY_ANTHROPIC_KEY}
    requests_per_minute: 30
  ollama:
    base_url: http://localhost:11434
    active_model: llama3
scoring:
  threshold: 5
  iterations: 3
  temperature: 0.4
retry:
  transient_delay: 500ms
  max_attempts: 4
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Server.Port)
	require.Equal(t, "./data/relevance.db", cfg.Database.Path)

	anth := cfg.Providers["anthropic"]
	require.Equal(t, "sk-ant-test", anth.APIKey)
	require.Equal(t, "https://api.anthropic.com", anth.BaseURL)
	require.Equal(t, "claude-3-7-sonnet-20250219", anth.ActiveModel)
	require.Equal(t, 30, anth.RequestsPerMinute)

	require.Equal(t, "mistral-from-env", cfg.Providers["mistral"].APIKey)
	require.Equal(t, "llama3", cfg.Providers["ollama"].ActiveModel)
	require.Contains(t, cfg.ProviderIDs(), "azure-openai")

	require.Equal(t, 500*time.Millisecond, cfg.Retry.TransientDelay)
	require.Equal(t, 4, cfg.Retry.MaxAttempts)
	require.Equal(t, 20*time.Second, cfg.Retry.RateLimitDelay)
	require.Equal(t, "title", cfg.Scoring.Columns.Title)
}

func TestProviderConfigSnapshot(t *testing.T) {
	cfg := Default()
	cfg.Scoring.Temperature = 0.3

	pc, err := cfg.ProviderConfig("", "")
	require.NoError(t, err)
	require.Equal(t, "openai", pc.ProviderID)
	require.Equal(t, "gpt-4.1", pc.Model)
	require.Equal(t, 0.3, pc.Temperature)
	require.Equal(t, 30, pc.TimeoutSeconds)

	// later edits do not reach an existing snapshot
	cfg.Scoring.Temperature = 0.9
	require.Equal(t, 0.3, pc.Temperature)

	az, err := cfg.ProviderConfig("azure-openai", "gpt-35-turbo")
	require.NoError(t, err)
	require.Equal(t, "gpt-35-turbo", az.Model)
	require.Equal(t, "2024-02-15-preview", az.APIVersion)

	_, err = cfg.ProviderConfig("unknown", "")
	require.Error(t, err)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.ErrorContains(t, err, "failed to open config file")

	_, err = LoadConfig(writeConfig(t, "scoring:\n  threshold: 9\n"))
	require.ErrorContains(t, err, "threshold")

	_, err = LoadConfig(writeConfig(t, "active_provider: nope\n"))
	require.ErrorContains(t, err, "nope")
}

func TestKeyEnv(t *testing.T) {
	require.Equal(t, "AZURE_OPENAI_API_KEY", KeyEnv("azure-openai"))
	require.Equal(t, "GOOGLE_API_KEY", KeyEnv("google"))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(LoggingConfig{Level: "loud"})
	require.Error(t, err)
}

func TestDataPath(t *testing.T) {
	cfg := Default()

	_, err := cfg.DataPath("in.xlsx")
	require.ErrorIs(t, err, ErrPathNotAllowed)

	dir := t.TempDir()
	cfg.Server.DataDir = dir

	got, err := cfg.DataPath("uploads/in.xlsx")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "uploads", "in.xlsx"), got)

	got, err = cfg.DataPath("a/../b.csv")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "b.csv"), got)

	for _, p := range []string{"", "/etc/passwd", "../outside.csv", "a/../../outside.csv", ".."} {
		_, err := cfg.DataPath(p)
		require.ErrorIs(t, err, ErrPathNotAllowed, p)
	}
}
