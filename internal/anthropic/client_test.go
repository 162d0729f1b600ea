package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"relevance-service/internal/llm"
	"relevance-service/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubmit(t *testing.T) {
	var gotHeaders http.Header
	var gotBody messageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"4"}]}`))
	}))
	defer srv.Close()

	p, err := New(models.ProviderConfig{ProviderID: ProviderID, APIKey: "ak", BaseURL: srv.URL + "/", Model: "claude-3-5-sonnet-20241022", Temperature: 0.1}, zap.NewNop())
	require.NoError(t, err)

	out, err := p.Submit(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "4", out)
	require.Equal(t, "ak", gotHeaders.Get("x-api-key"))
	require.Equal(t, APIVersion, gotHeaders.Get("anthropic-version"))
	require.Equal(t, 10, gotBody.MaxTokens)
	require.Equal(t, []message{{Role: "user", Content: "hello"}}, gotBody.Messages)
}

func TestSubmitAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "bad", BaseURL: srv.URL, Model: "claude"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "hello")
	require.Equal(t, llm.KindAuth, llm.Classify(err))
}

func TestSubmitNoTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "claude"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "hello")
	require.ErrorIs(t, err, llm.ErrUnexpectedResponse)
}
