package chat

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

func newServer(t *testing.T, handle func(r *http.Request, body map[string]interface{}) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status, reply := handle(r, body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitSendsSingleUserMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := newServer(t, func(r *http.Request, body map[string]interface{}) (int, string) {
		gotPath, gotAuth, gotBody = r.URL.Path, r.Header.Get("Authorization"), body
		return http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":" 6 "}}]}`
	})

	c, err := NewClient(Config{Provider: ProviderDeepSeek, APIKey: "k", BaseURL: srv.URL, Model: "deepseek-chat", Temperature: 0.3, Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	out, err := c.Submit(context.Background(), "rate this")
	require.NoError(t, err)
	require.Equal(t, "6", out)
	require.Equal(t, "/v1/chat/completions", gotPath)
	require.Equal(t, "Bearer k", gotAuth)
	require.Equal(t, "deepseek-chat", gotBody["model"])
	require.InDelta(t, 0.3, gotBody["temperature"], 1e-9)
	require.EqualValues(t, 10, gotBody["max_tokens"])

	msgs := gotBody["messages"].([]interface{})
	require.Len(t, msgs, 1)
	require.Equal(t, "user", msgs[0].(map[string]interface{})["role"])
	require.Equal(t, "rate this", msgs[0].(map[string]interface{})["content"])
}

func TestReasoningModelUsesReasoningEffort(t *testing.T) {
	var gotBody map[string]interface{}
	srv := newServer(t, func(_ *http.Request, body map[string]interface{}) (int, string) {
		gotBody = body
		return http.StatusOK, `{"choices":[{"message":{"content":"5"}}]}`
	})

	c, err := NewClient(Config{Provider: ProviderOpenAI, APIKey: "k", BaseURL: srv.URL + "/v1", Model: "o3-mini", Temperature: 0.5}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "low", gotBody["reasoning_effort"])
	require.Contains(t, gotBody, "max_completion_tokens")
	require.NotContains(t, gotBody, "temperature")
	require.NotContains(t, gotBody, "max_tokens")
}

func TestAzureEndpointAndHeader(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	srv := newServer(t, func(r *http.Request, _ map[string]interface{}) (int, string) {
		gotPath, gotQuery, gotKey = r.URL.Path, r.URL.Query().Get("api-version"), r.Header.Get("api-key")
		return http.StatusOK, `{"choices":[{"message":{"content":"3"}}]}`
	})

	c, err := NewClient(Config{Provider: ProviderAzureOpenAI, APIKey: "az", BaseURL: srv.URL, Model: "gpt4o-deploy"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "/openai/deployments/gpt4o-deploy/chat/completions", gotPath)
	require.Equal(t, "2024-02-15-preview", gotQuery)
	require.Equal(t, "az", gotKey)
}

func TestErrorStatusIsClassified(t *testing.T) {
	srv := newServer(t, func(*http.Request, map[string]interface{}) (int, string) {
		return http.StatusNotFound, `{"error":{"message":"The model gpt-9 does not exist"}}`
	})

	c, err := NewClient(Config{Provider: ProviderOpenAI, APIKey: "k", BaseURL: srv.URL, Model: "gpt-9"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "p")
	require.Equal(t, llm.KindModelNotFound, llm.Classify(err))
}

func TestEmptyChoicesIsUnexpected(t *testing.T) {
	srv := newServer(t, func(*http.Request, map[string]interface{}) (int, string) {
		return http.StatusOK, `{"choices":[]}`
	})
	c, err := NewClient(Config{Provider: ProviderGroq, APIKey: "k", BaseURL: srv.URL, Model: "llama"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "p")
	require.ErrorIs(t, err, llm.ErrUnexpectedResponse)
}

func TestWithModelDoesNotMutate(t *testing.T) {
	c, err := NewClient(Config{Provider: ProviderOpenAI, APIKey: "k", Model: "o1-mini"}, zap.NewNop())
	require.NoError(t, err)

	other := c.WithModel("gpt-4o")
	require.Equal(t, "o1-mini", c.Model())
	require.Equal(t, "gpt-4o", other.Model())
	require.True(t, IsReasoningModel("o1-mini"))
	require.False(t, IsReasoningModel("gpt-4o"))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{Provider: ProviderOpenAI, Model: "gpt-4o"}, zap.NewNop())
	require.Error(t, err)
}
