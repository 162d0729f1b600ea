package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"relevance-service/internal/config"
	"relevance-service/internal/dataset"
	"relevance-service/internal/llm"
	"relevance-service/internal/models"
	"relevance-service/internal/retry"
	"relevance-service/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeCSV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("Article Title,Abstract\nGraph nets,Message passing\n"), 0o600))
	return path
}

func TestBuildRequestOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()

	o := options{
		in:          writeCSV(t, dir),
		out:         filepath.Join(dir, "out.csv"),
		topic:       "graph learning",
		provider:    "anthropic",
		threshold:   6,
		maxRecords:  -1,
		temperature: 0.7,
		columns:     models.ColumnMapping{Title: "Article Title", Abstract: "Abstract"},
	}
	req, err := buildRequest(o, cfg, zap.NewNop())
	require.NoError(t, err)

	require.Equal(t, 6, req.Threshold)
	require.Equal(t, cfg.Scoring.Iterations, req.Iterations)
	require.Equal(t, "anthropic", req.Provider.ProviderID)
	require.Equal(t, "claude-3-7-sonnet-20250219", req.Provider.Model)
	require.Equal(t, 0.7, req.Provider.Temperature)
	require.Equal(t, "Article Title", req.Mapping.Title)
	require.Equal(t, "keywords", req.Mapping.Keywords)
	require.Equal(t, 1, req.Source.RowCount())
	require.IsType(t, &dataset.CSVSink{}, req.Sink)
}

func TestBuildRequestDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	req, err := buildRequest(options{
		in:          writeCSV(t, dir),
		topic:       "graph learning",
		provider:    "openai",
		model:       "gpt-4o",
		maxRecords:  -1,
		temperature: -1,
	}, config.Default(), zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "in_BibAI_gpt4o.xlsx"), req.OutputPath)
	require.IsType(t, &dataset.XLSXSink{}, req.Sink)
}

func TestBuildRequestRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	_, err := buildRequest(options{
		in:          writeCSV(t, dir),
		out:         filepath.Join(dir, "out.xlsx"),
		topic:       "x",
		threshold:   9,
		maxRecords:  -1,
		temperature: -1,
	}, config.Default(), zap.NewNop())
	require.ErrorContains(t, err, "threshold")
}

type blockingFactory struct {
	started chan struct{}
	once    *sync.Once
	release chan struct{}
}

func (f blockingFactory) New(cfg models.ProviderConfig) (llm.Provider, error) {
	return &llm.FuncProvider{ProviderName: cfg.ProviderID, ModelName: cfg.Model,
		Fn: func(context.Context, string, string) (string, error) {
			f.once.Do(func() { close(f.started) })
			<-f.release
			return "5", nil
		}}, nil
}

func TestInterruptCancelsThenAbandons(t *testing.T) {
	factory := blockingFactory{started: make(chan struct{}), once: &sync.Once{}, release: make(chan struct{})}
	defer close(factory.release)

	policy := retry.Policy{TransientDelay: time.Millisecond, RateLimitDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 1}
	scorer := service.NewScorer(factory, policy, zap.NewNop())
	h := scorer.Start(context.Background(), service.RunRequest{
		Topic:      "x",
		Threshold:  4,
		Iterations: 1,
		Provider:   models.ProviderConfig{ProviderID: "openai", Model: "gpt-4.1"},
		Source:     dataset.NewTable([]string{"title"}, [][]string{{"a"}, {"b"}}),
	})
	go func() {
		for range h.Events() {
		}
	}()

	sig := make(chan os.Signal, 2)
	abandoned := make(chan struct{})
	go watchInterrupts(sig, h, time.Minute, abandoned, zap.NewNop())

	select {
	case <-factory.started:
	case <-time.After(time.Second):
		t.Fatal("provider call never started")
	}

	sig <- syscall.SIGINT
	require.Eventually(t, h.Cancelled, time.Second, 5*time.Millisecond)

	sig <- syscall.SIGINT
	select {
	case <-abandoned:
	case <-time.After(time.Second):
		t.Fatal("second interrupt did not abandon the run")
	}
}
