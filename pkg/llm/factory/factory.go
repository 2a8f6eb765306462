package factory

import (
	"fmt"

	"araquem/pkg/llm"
	"araquem/pkg/llm/ollama"
	"araquem/pkg/llm/openai"
)

// NewLLMProvider builds the configured backend. An empty type or "none"
// returns nil: the narrator then keeps the deterministic answer.
func NewLLMProvider(providerType, modelName, baseURL, apiKey string) (llm.LLMProvider, error) {
	switch providerType {
	case "", "none":
		return nil, nil
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewOllamaProvider(baseURL, modelName), nil
	case "openai", "huggingface":
		return openai.NewProvider(apiKey, baseURL, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
