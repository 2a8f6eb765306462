package rag

import (
	"context"
	"math"
	"sort"
)

// Store searches a vector index. Results are sorted by descending score and
// already filtered by minScore.
type Store interface {
	Search(ctx context.Context, query []float32, collections []string, k int, minScore float64) ([]Chunk, error)
	Name() string
	Ready(ctx context.Context) error
}

// cosine is Σxy / (||x||·||y||) with both norms precomputed. Zero vectors
// score 0.
func cosine(x, y []float32, nx, ny float64) float64 {
	if nx == 0 || ny == 0 {
		return 0
	}
	var dot float64
	for i := range x {
		dot += float64(x[i]) * float64(y[i])
	}
	return dot / (nx * ny)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func allowed(collections []string, c string) bool {
	if len(collections) == 0 {
		return true
	}
	for _, x := range collections {
		if x == c {
			return true
		}
	}
	return false
}

func topK(chunks []Chunk, k int) []Chunk {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if k > 0 && len(chunks) > k {
		chunks = chunks[:k]
	}
	return chunks
}
