package embedding

import "fmt"

// NewProvider builds the configured embedding backend. The vector index
// must have been built with the same provider and model.
func NewProvider(providerType, baseURL, model, apiKey string) (EmbeddingProvider, error) {
	switch providerType {
	case "", "ollama":
		return NewOllamaProvider(baseURL, model), nil
	case "gemini":
		if apiKey == "" {
			return nil, fmt.Errorf("gemini embedding provider requires an API key")
		}
		return NewGeminiProvider(apiKey, baseURL, model), nil
	case "jina":
		if apiKey == "" {
			return nil, fmt.Errorf("jina embedding provider requires an API key")
		}
		return NewJinaProvider(apiKey, baseURL, model), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", providerType)
	}
}
