package ai

import (
	"context"
	"time"
)

// Settings carries upstream endpoints and credentials. Empty keys are allowed;
// the affected provider then fails each call with an UpstreamError.
type Settings struct {
	OpenAIBaseURL string
	OpenAIAPIKey  string

	GoogleBaseURL   string
	GoogleAPIKey    string
	GoogleWordDelay time.Duration

	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterSiteURL string
	OpenRouterAppName string

	OllamaBaseURL string
}

// NewDefaultRegistry registers openai, google, openrouter and ollama.
func NewDefaultRegistry(s Settings) *Registry {
	reg := NewRegistry()
	reg.Register(openAIName, func(_ context.Context, model string) (Provider, error) {
		return NewOpenAIProvider(s.OpenAIBaseURL, s.OpenAIAPIKey, model), nil
	})
	reg.Register(googleName, func(_ context.Context, model string) (Provider, error) {
		return NewGoogleProvider(s.GoogleBaseURL, s.GoogleAPIKey, model, s.GoogleWordDelay), nil
	})
	reg.Register(openRouterName, func(_ context.Context, model string) (Provider, error) {
		return NewOpenRouterProvider(s.OpenRouterBaseURL, s.OpenRouterAPIKey, model, s.OpenRouterSiteURL, s.OpenRouterAppName), nil
	})
	reg.Register(ollamaName, func(_ context.Context, model string) (Provider, error) {
		return NewOllamaProvider(s.OllamaBaseURL, model), nil
	})
	return reg
}
