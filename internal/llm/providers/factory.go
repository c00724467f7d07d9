package providers

import (
	"fmt"
	"net/http"

	"paperrag/internal/config"
	"paperrag/internal/llm"
	"paperrag/internal/llm/anthropic"
	"paperrag/internal/llm/google"
	openaillm "paperrag/internal/llm/openai"
)

// Build constructs an llm.Provider based on the configured provider name.
// - openai: uses the OpenAI client against the hosted completions API
// - local: uses the OpenAI client against a self-hosted completions-compatible server
// - anthropic: uses the Anthropic Messages API client
// - google: uses the Gemini client
// - extractive: no LLM backend at all; Build returns a nil Provider, which
//   internal/answer treats as "always generate via the extractive fallback".
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openaillm.New(cfg.LLM.OpenAI, httpClient), nil
	case "local":
		oc := cfg.LLM.OpenAI
		oc.API = "completions"
		return openaillm.New(oc, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLM.Anthropic, httpClient), nil
	case "google":
		return google.New(cfg.LLM.Google, httpClient)
	case "extractive":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
