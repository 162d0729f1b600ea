package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relevance-service/internal/llm"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRESTClientSubmit(t *testing.T) {
	var gotPath, gotKey string
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotKey = r.URL.Path, r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"5\n"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewRESTClient(Config{APIKey: "g-key", BaseURL: srv.URL, ModelName: "gemini-1.5-flash", Temperature: 0.2}, time.Second, zap.NewNop())
	require.NoError(t, err)

	out, err := c.Submit(context.Background(), "score it")
	require.NoError(t, err)
	require.Equal(t, "5", out)
	require.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", gotPath)
	require.Equal(t, "g-key", gotKey)
	require.Len(t, gotBody.Contents, 1)
	require.Equal(t, "score it", gotBody.Contents[0].Parts[0].Text)
	require.InDelta(t, 0.2, gotBody.GenerationConfig.Temperature, 1e-9)
}

func TestRESTClientEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c, err := NewRESTClient(Config{APIKey: "k", BaseURL: srv.URL}, time.Second, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "p")
	require.ErrorIs(t, err, llm.ErrUnexpectedResponse)
	require.Equal(t, DefaultModel, c.Model())
}

func TestRESTFallbackAfterNativeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"7"}]}}]}`))
	}))
	defer srv.Close()

	rest, err := NewRESTClient(Config{APIKey: "k", BaseURL: srv.URL, ModelName: "gemini-pro"}, time.Second, zap.NewNop())
	require.NoError(t, err)

	broken := &llm.FuncProvider{ProviderName: ProviderID, ModelName: "gemini-pro", Fn: func(context.Context, string, string) (string, error) {
		return "", llm.ErrUnexpectedResponse
	}}

	out, err := llm.WithFallback(broken, rest, zap.NewNop()).Submit(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "7", out)
}

func TestNativeClientHonoursTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"5"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewNativeClient(context.Background(), Config{
		APIKey:    "k",
		BaseURL:   srv.URL,
		ModelName: "gemini-pro",
		Timeout:   200 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	_, err = c.Submit(context.Background(), "p")
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}
