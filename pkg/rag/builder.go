// Package rag builds the retrieval context attached to an answer. Whether
// retrieval runs at all is decided from policy alone; I/O failures never
// propagate and turn into a disabled context with reason "error".
package rag

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/embedding"
	"araquem/pkg/metrics"
	"araquem/pkg/planner"
	"araquem/pkg/policy"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	ReasonNoPolicy      = "no_policy"
	ReasonIntentDenied  = "intent_denied"
	ReasonNotAllowed    = "intent_not_allowed"
	ReasonError         = "error"
	defaultMaxChunks    = 5
	maxChunksCeiling    = 20
	approxCharsPerToken = 4
)

var tracer = otel.Tracer("araquem/rag")

// Decision is the pure policy outcome for one (intent, entity).
type Decision struct {
	Enabled bool
	Reason  string
	Profile Profile
}

// Decide evaluates routing then resolves the entity profile.
func Decide(p *policy.RAGPolicy, intent, entity string) Decision {
	if p == nil {
		return Decision{Reason: ReasonNoPolicy}
	}
	for _, d := range p.Routing.DenyIntents {
		if d == intent {
			return Decision{Reason: ReasonIntentDenied}
		}
	}
	if len(p.Routing.AllowIntents) > 0 {
		ok := false
		for _, a := range p.Routing.AllowIntents {
			if a == intent {
				ok = true
				break
			}
		}
		if !ok {
			return Decision{Reason: ReasonNotAllowed}
		}
	}

	prof := p.Default
	if e, ok := p.Profiles[entity]; ok {
		prof = e
		if len(prof.Collections) == 0 {
			prof.Collections = p.Default.Collections
		}
		if prof.MaxTokens == 0 {
			prof.MaxTokens = p.Default.MaxTokens
		}
	}
	out := Profile{
		Collections: append([]string{}, prof.Collections...),
		MaxChunks:   prof.MaxChunks,
		MinScore:    prof.MinScore,
		MaxTokens:   prof.MaxTokens,
	}
	if out.MaxChunks <= 0 {
		out.MaxChunks = defaultMaxChunks
	}
	if out.MaxChunks > maxChunksCeiling {
		out.MaxChunks = maxChunksCeiling
	}
	return Decision{Enabled: true, Profile: out}
}

type Request struct {
	Question    string
	Intent      string
	Entity      string
	ComputeMode string
	HasTicker   bool
	Policy      *policy.RAGPolicy
}

type Builder struct {
	store    Store
	embedder embedding.EmbeddingProvider
	log      logger.ILogger

	mu   sync.Mutex
	rand *rand.Rand
}

func NewBuilder(store Store, embedder embedding.EmbeddingProvider, log logger.ILogger) *Builder {
	return &Builder{
		store:    store,
		embedder: embedder,
		log:      log,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Store exposes the backing index for health checks.
func (b *Builder) Store() Store { return b.store }

func (b *Builder) sample(rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rand.Float64() < rate
}

// BuildContext never fails: errors are folded into the returned context.
func (b *Builder) BuildContext(ctx context.Context, req Request) *Context {
	out := &Context{
		Question:    req.Question,
		Intent:      req.Intent,
		Entity:      req.Entity,
		ComputeMode: req.ComputeMode,
		HasTicker:   req.HasTicker,
		Chunks:      []Chunk{},
	}
	d := Decide(req.Policy, req.Intent, req.Entity)
	if !d.Enabled {
		out.Reason = d.Reason
		metrics.RAGRequests.WithLabelValues("disabled").Inc()
		return out
	}
	out.Policy = d.Profile

	ctx, span := tracer.Start(ctx, "rag.build_context")
	span.SetAttributes(attribute.String("rag.entity", req.Entity), attribute.Int("rag.max_chunks", d.Profile.MaxChunks))
	defer span.End()

	start := time.Now()
	defer func() {
		out.LatencyMs = time.Since(start).Milliseconds()
		metrics.RAGLatency.Observe(time.Since(start).Seconds())
	}()

	if b == nil || b.store == nil || b.embedder == nil {
		return b.failed(out, ErrIndexMissing)
	}
	vec, err := b.embedder.Embed(ctx, req.Question)
	if err != nil {
		return b.failed(out, err)
	}
	if len(vec) == 0 {
		return b.failed(out, embedding.ErrEmptyEmbedding)
	}

	var (
		chunks []Chunk
		shadow *ShadowResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chunks, err = b.store.Search(gctx, vec, d.Profile.Collections, d.Profile.MaxChunks, d.Profile.MinScore)
		return err
	})
	if sp := req.Policy.Shadow; sp.Enabled && sp.Collection != "" && b.sample(sp.SampleRate) {
		g.Go(func() error {
			shadow = b.shadowLookup(gctx, vec, sp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		out.Shadow = shadow
		return b.failed(out, err)
	}

	out.Enabled = true
	out.Chunks = trimTokens(chunks, d.Profile.MaxTokens)
	out.TotalChunks = len(out.Chunks)
	out.Shadow = shadow
	metrics.RAGRequests.WithLabelValues("ok").Inc()
	b.log.Debug("RAG", "Context built", map[string]interface{}{
		"entity": req.Entity,
		"chunks": out.TotalChunks,
	})
	return out
}

func (b *Builder) shadowLookup(ctx context.Context, vec []float32, sp policy.RAGShadow) *ShadowResult {
	start := time.Now()
	k := sp.K
	if k <= 0 {
		k = 3
	}
	res := &ShadowResult{Collection: sp.Collection, Sampled: true}
	chunks, err := b.store.Search(ctx, vec, []string{sp.Collection}, k, -1)
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = ErrorClass(err)
		return res
	}
	res.Count = len(chunks)
	if len(chunks) > 0 {
		res.TopScore = chunks[0].Score
	}
	return res
}

func (b *Builder) failed(out *Context, err error) *Context {
	out.Enabled = false
	out.Reason = ReasonError
	out.Error = ErrorClass(err)
	out.Chunks = []Chunk{}
	out.TotalChunks = 0
	metrics.RAGRequests.WithLabelValues("error").Inc()
	metrics.Errors.WithLabelValues(metrics.KindRAG).Inc()
	if b != nil && b.log != nil {
		b.log.Warn("RAG", "Retrieval failed, continuing without context", map[string]interface{}{
			"entity": out.Entity,
			"error":  err.Error(),
		})
	}
	return out
}

// ErrorClass names an error for the response meta without leaking details.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, ErrIndexMissing):
		return "index_missing"
	case errors.Is(err, embedding.ErrEmptyEmbedding):
		return "empty_embedding"
	case errors.Is(err, ErrDimension):
		return "dimension_mismatch"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "store_error"
	}
}

// trimTokens keeps chunks while their estimated token total fits maxTokens.
// The first chunk is always kept.
func trimTokens(chunks []Chunk, maxTokens int) []Chunk {
	if maxTokens <= 0 {
		return chunks
	}
	used := 0
	for i, c := range chunks {
		used += len(c.Text)/approxCharsPerToken + 1
		if used > maxTokens && i > 0 {
			return chunks[:i]
		}
	}
	return chunks
}

// EntityHints serves planner fusion: every chunk tagged with an entity
// becomes a hint.
func (b *Builder) EntityHints(ctx context.Context, question string, k int) ([]planner.Hint, error) {
	if b.store == nil || b.embedder == nil {
		return nil, ErrIndexMissing
	}
	vec, err := b.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	chunks, err := b.store.Search(ctx, vec, nil, k, -1)
	if err != nil {
		return nil, err
	}
	hints := make([]planner.Hint, 0, len(chunks))
	for _, c := range chunks {
		if c.Entity == "" {
			continue
		}
		id := c.DocID
		if c.ChunkID != "" {
			id += "#" + c.ChunkID
		}
		hints = append(hints, planner.Hint{DocID: id, Entity: c.Entity, Score: c.Score})
	}
	return hints, nil
}
