// Package providers wires every backend family into one llm.Registry.
package providers

import (
	"relevance-service/internal/anthropic"
	"relevance-service/internal/chat"
	"relevance-service/internal/cohere"
	"relevance-service/internal/gemini"
	"relevance-service/internal/generate"
	"relevance-service/internal/llm"

	"go.uber.org/zap"
)

// NewRegistry returns a registry with all known provider ids bound.
func NewRegistry(logger *zap.Logger) *llm.Registry {
	r := llm.NewRegistry(logger)
	r.Register(chat.New,
		chat.ProviderOpenAI,
		chat.ProviderAzureOpenAI,
		chat.ProviderDeepSeek,
		chat.ProviderMistral,
		chat.ProviderGroq,
		chat.ProviderOpenRouter,
	)
	r.Register(anthropic.New, anthropic.ProviderID)
	r.Register(gemini.New, gemini.ProviderID, "gemini")
	r.Register(cohere.New, cohere.ProviderID)
	r.Register(generate.New, "ollama", "generate")
	return r
}
