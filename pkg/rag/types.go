package rag

import "errors"

var (
	// ErrIndexMissing means the vector index file or table does not exist.
	ErrIndexMissing = errors.New("rag: vector index missing")
	// ErrDimension means a query or record vector has the wrong width.
	ErrDimension = errors.New("rag: embedding dimension mismatch")
)

// Record is one line of the JSONL index.
type Record struct {
	Collection string    `json:"collection"`
	DocID      string    `json:"doc_id"`
	ChunkID    string    `json:"chunk_id"`
	SourceID   string    `json:"source_id,omitempty"`
	Entity     string    `json:"entity,omitempty"`
	Path       string    `json:"path,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	SHA        string    `json:"sha,omitempty"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
}

// Chunk is a retrieved record without its vector.
type Chunk struct {
	Text       string   `json:"text"`
	Score      float64  `json:"score"`
	DocID      string   `json:"doc_id,omitempty"`
	ChunkID    string   `json:"chunk_id,omitempty"`
	Collection string   `json:"collection,omitempty"`
	Path       string   `json:"path,omitempty"`
	Entity     string   `json:"entity,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Profile is the retrieval profile resolved for one entity.
type Profile struct {
	Collections []string `json:"collections"`
	MaxChunks   int      `json:"max_chunks"`
	MinScore    float64  `json:"min_score"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// ShadowResult records the observational concepts lookup.
type ShadowResult struct {
	Collection string  `json:"collection"`
	Sampled    bool    `json:"sampled"`
	LatencyMs  int64   `json:"latency_ms"`
	Count      int     `json:"count"`
	TopScore   float64 `json:"top_score,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Context is what the presenter and narrator receive.
type Context struct {
	Enabled     bool          `json:"enabled"`
	Question    string        `json:"question"`
	Intent      string        `json:"intent"`
	Entity      string        `json:"entity"`
	ComputeMode string        `json:"compute_mode,omitempty"`
	HasTicker   bool          `json:"has_ticker"`
	Chunks      []Chunk       `json:"chunks"`
	TotalChunks int           `json:"total_chunks"`
	Policy      Profile       `json:"policy"`
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	LatencyMs   int64         `json:"latency_ms,omitempty"`
	Shadow      *ShadowResult `json:"shadow,omitempty"`
}

// Best returns the highest scored chunk.
func (c *Context) Best() (Chunk, bool) {
	if c == nil || len(c.Chunks) == 0 {
		return Chunk{}, false
	}
	return c.Chunks[0], true
}
