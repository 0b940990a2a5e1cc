package llm

import (
	"fmt"
	"strings"
)

// ProviderConfig selects and parameterises the chat backend.
type ProviderConfig struct {
	Provider  string
	APIKey    string
	AuthToken string // OAuth bearer token, Anthropic only
	Model     string
	BaseURL   string // Ollama only
}

const defaultOllamaModel = "llama3.1"

// NewClient builds the chat client for the configured provider. Ollama is
// served through the OpenAI-compatible client pointed at its base URL.
func NewClient(cfg ProviderConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.AuthToken, cfg.Model), nil
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, ""), nil
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOpenAIClient("ollama", model, cfg.BaseURL), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
}
