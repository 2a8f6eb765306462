package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "o que e beta", req.Prompt)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float64{3, 4}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "")
	vec, err := p.Embed(context.Background(), "o que e beta")
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestOllamaProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float64{}})
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "m").Embed(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmptyEmbedding)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer failing.Close()

	_, err = NewOllamaProvider(failing.URL, "m").Embed(context.Background(), "q")
	assert.ErrorContains(t, err, "status 404")
}

func TestNormalizeVector(t *testing.T) {
	v := normalizeVector([]float32{1, 1, 1, 1})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
	assert.Equal(t, []float32{0, 0}, normalizeVector([]float32{0, 0}))
}
