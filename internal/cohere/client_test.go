package cohere

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"relevance-service/internal/generate"
	"relevance-service/internal/llm"

	cohere "github.com/cohere-ai/cohere-go/v2"
	"github.com/cohere-ai/cohere-go/v2/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubChatter struct {
	req  *cohere.ChatRequest
	text string
	err  error
}

func (s *stubChatter) Chat(_ context.Context, req *cohere.ChatRequest, _ ...core.RequestOption) (*cohere.NonStreamedChatResponse, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &cohere.NonStreamedChatResponse{Text: s.text}, nil
}

func TestSubmitUsesSDKRequest(t *testing.T) {
	stub := &stubChatter{text: " 5 "}
	c := NewWithChatter(stub, "command-r", 0.2, zap.NewNop())

	out, err := c.Submit(context.Background(), "the prompt")
	require.NoError(t, err)
	require.Equal(t, "5", out)
	require.Equal(t, "the prompt", stub.req.Message)
	require.Equal(t, "command-r", *stub.req.Model)
	require.InDelta(t, 0.2, *stub.req.Temperature, 1e-9)

	other := c.WithModel("command-r-plus")
	_, err = other.Submit(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "command-r-plus", *stub.req.Model)
}

func TestFallsBackToGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"2"}`))
	}))
	defer srv.Close()

	native := NewWithChatter(&stubChatter{err: errors.New("connection reset")}, "command-r", 0, zap.NewNop())
	rest, err := generate.NewClient(generate.Config{Provider: ProviderID, APIKey: "k", BaseURL: srv.URL, Model: "command-r", Preset: generate.CoherePreset}, zap.NewNop())
	require.NoError(t, err)

	out, err := llm.WithFallback(native, rest, zap.NewNop()).Submit(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "2", out)
}

func TestEmptyTextIsUnexpected(t *testing.T) {
	c := NewWithChatter(&stubChatter{text: ""}, "command-r", 0, zap.NewNop())
	_, err := c.Submit(context.Background(), "p")
	require.ErrorIs(t, err, llm.ErrUnexpectedResponse)
}
