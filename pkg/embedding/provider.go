package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrEmptyEmbedding is returned when the service answers with no vector.
var ErrEmptyEmbedding = errors.New("embedding: empty vector")

// EmbeddingProvider turns text into a unit-length vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// normalizeVector scales vec to unit length so cosine similarity reduces to
// a dot product. Zero vectors are returned unchanged.
func normalizeVector(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)
	if magnitude == 0 {
		return vec
	}

	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
