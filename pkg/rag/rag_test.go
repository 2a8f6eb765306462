package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func (f *fakeEmbedder) Model() string { return "fake" }

func testPolicy() *policy.RAGPolicy {
	return &policy.RAGPolicy{
		Routing: policy.RAGRouting{
			DenyIntents:  []string{"cadastro", "precos"},
			AllowIntents: []string{"risco", "dividendos", "macro"},
		},
		Default: policy.RAGProfile{Collections: []string{"concepts-fiis"}, MaxChunks: 5, MinScore: 0.2, MaxTokens: 1200},
		Profiles: map[string]policy.RAGProfile{
			"fiis_financials_risk": {Collections: []string{"concepts-risk"}, MaxChunks: 2, MinScore: 0.5},
			"macro_indicadores":    {MaxChunks: 50},
		},
	}
}

func TestDecide(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, Decision{Reason: ReasonNoPolicy}, Decide(nil, "risco", "fiis_financials_risk"))
	assert.Equal(t, ReasonIntentDenied, Decide(p, "cadastro", "fiis_cadastro").Reason)
	assert.Equal(t, ReasonNotAllowed, Decide(p, "yields", "fiis_yield_history").Reason)

	d := Decide(p, "risco", "fiis_financials_risk")
	require.True(t, d.Enabled)
	assert.Equal(t, []string{"concepts-risk"}, d.Profile.Collections)
	assert.Equal(t, 2, d.Profile.MaxChunks)
	assert.Equal(t, 1200, d.Profile.MaxTokens)

	macro := Decide(p, "macro", "macro_indicadores")
	assert.Equal(t, 20, macro.Profile.MaxChunks)
	assert.Equal(t, []string{"concepts-fiis"}, macro.Profile.Collections)

	div := Decide(p, "dividendos", "fiis_dividendos")
	assert.Equal(t, 5, div.Profile.MaxChunks)
}

func TestFileStoreSearch(t *testing.T) {
	s := NewFileStore(filepath.Join("testdata", "index.jsonl"))
	require.NoError(t, s.Ready(context.Background()))
	assert.Equal(t, 4, s.Len())

	chunks, err := s.Search(context.Background(), []float32{1, 0, 0}, []string{"concepts-risk"}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "beta", chunks[0].DocID)
	assert.InDelta(t, 1.0, chunks[0].Score, 1e-9)
	assert.Equal(t, "sharpe", chunks[1].DocID)
	assert.InDelta(t, 0.8, chunks[1].Score, 1e-6)
	assert.Equal(t, []string{"risco"}, chunks[0].Tags)

	top, err := s.Search(context.Background(), []float32{1, 0, 0}, nil, 1, -1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	_, err = s.Search(context.Background(), []float32{1, 0}, nil, 1, 0)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestFileStoreMissingAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.jsonl")
	s := NewFileStore(path)

	_, err := s.Search(context.Background(), []float32{1}, nil, 1, 0)
	assert.ErrorIs(t, err, ErrIndexMissing)

	require.NoError(t, os.WriteFile(path, []byte(`{"collection":"c","doc_id":"a","text":"a","embedding":[1,0]}`+"\n"), 0o644))
	chunks, err := s.Search(context.Background(), []float32{1, 0}, nil, 5, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	require.NoError(t, os.WriteFile(path, []byte(
		`{"collection":"c","doc_id":"a","text":"a","embedding":[1,0]}`+"\n"+
			`{"collection":"c","doc_id":"b","text":"b","embedding":[0.9,0.1]}`+"\n"), 0o644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	chunks, err = s.Search(context.Background(), []float32{1, 0}, nil, 5, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestFileStoreRejectsMixedDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"collection":"c","text":"a","embedding":[1,0]}`+"\n"+
			`{"collection":"c","text":"b","embedding":[1,0,0]}`+"\n"), 0o644))
	_, err := NewFileStore(path).Search(context.Background(), []float32{1, 0}, nil, 1, 0)
	assert.ErrorIs(t, err, ErrDimension)
}

func newBuilder(emb *fakeEmbedder, path string) *Builder {
	return NewBuilder(NewFileStore(path), emb, logger.NewNopLogger())
}

func TestBuildContextDisabledSkipsEmbedding(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1, 0, 0}}
	b := newBuilder(emb, filepath.Join("testdata", "index.jsonl"))

	out := b.BuildContext(context.Background(), Request{Question: "cnpj do HGLG11", Intent: "cadastro", Entity: "fiis_cadastro", Policy: testPolicy()})
	assert.False(t, out.Enabled)
	assert.Equal(t, ReasonIntentDenied, out.Reason)
	assert.Empty(t, out.Chunks)
	assert.Equal(t, 0, emb.calls)
}

func TestBuildContextRetrieves(t *testing.T) {
	emb := &fakeEmbedder{vec: []float32{1, 0, 0}}
	b := newBuilder(emb, filepath.Join("testdata", "index.jsonl"))

	out := b.BuildContext(context.Background(), Request{
		Question: "o que e beta", Intent: "risco", Entity: "fiis_financials_risk", ComputeMode: "concept", Policy: testPolicy(),
	})
	require.True(t, out.Enabled)
	assert.Equal(t, 2, out.TotalChunks)
	assert.Equal(t, "beta", out.Chunks[0].DocID)
	assert.Equal(t, "concept", out.ComputeMode)
	assert.Equal(t, []string{"concepts-risk"}, out.Policy.Collections)
	assert.Nil(t, out.Shadow)

	best, ok := out.Best()
	require.True(t, ok)
	assert.Equal(t, "beta", best.DocID)
}

func TestBuildContextFoldsErrors(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("connection refused")}
	out := newBuilder(emb, filepath.Join("testdata", "index.jsonl")).BuildContext(context.Background(),
		Request{Question: "q", Intent: "risco", Entity: "fiis_financials_risk", Policy: testPolicy()})
	assert.False(t, out.Enabled)
	assert.Equal(t, ReasonError, out.Reason)
	assert.Equal(t, "store_error", out.Error)

	missing := newBuilder(&fakeEmbedder{vec: []float32{1, 0, 0}}, filepath.Join(t.TempDir(), "none.jsonl")).
		BuildContext(context.Background(), Request{Question: "q", Intent: "risco", Entity: "fiis_financials_risk", Policy: testPolicy()})
	assert.False(t, missing.Enabled)
	assert.Equal(t, "index_missing", missing.Error)

	empty := newBuilder(&fakeEmbedder{}, filepath.Join("testdata", "index.jsonl")).
		BuildContext(context.Background(), Request{Question: "q", Intent: "risco", Entity: "fiis_financials_risk", Policy: testPolicy()})
	assert.Equal(t, "empty_embedding", empty.Error)
}

func TestBuildContextShadow(t *testing.T) {
	p := testPolicy()
	p.Shadow = policy.RAGShadow{Enabled: true, Collection: "concepts-fiis", SampleRate: 1, K: 2}
	b := newBuilder(&fakeEmbedder{vec: []float32{1, 0, 0}}, filepath.Join("testdata", "index.jsonl"))

	out := b.BuildContext(context.Background(), Request{Question: "q", Intent: "risco", Entity: "fiis_financials_risk", Policy: p})
	require.True(t, out.Enabled)
	require.NotNil(t, out.Shadow)
	assert.True(t, out.Shadow.Sampled)
	assert.Equal(t, 1, out.Shadow.Count)
	assert.Equal(t, "beta", out.Chunks[0].DocID)
}

func TestTrimTokens(t *testing.T) {
	chunks := []Chunk{{Text: string(make([]byte, 400))}, {Text: string(make([]byte, 400))}, {Text: "x"}}
	assert.Len(t, trimTokens(chunks, 0), 3)
	assert.Len(t, trimTokens(chunks, 150), 1)
	assert.Len(t, trimTokens(chunks, 10), 1)
	assert.Len(t, trimTokens(chunks, 300), 3)
}

func TestEntityHints(t *testing.T) {
	b := newBuilder(&fakeEmbedder{vec: []float32{0, 0, 1}}, filepath.Join("testdata", "index.jsonl"))
	hints, err := b.EntityHints(context.Background(), "inflacao", 1)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, "macro_indicadores", hints[0].Entity)
	assert.Equal(t, "ipca#0", hints[0].DocID)
}
