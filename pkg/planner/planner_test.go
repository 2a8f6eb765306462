package planner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"araquem/internal/pkg/logger"
	"araquem/pkg/ontology"
	"araquem/pkg/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct{ snap *policy.Snapshot }

func (s staticSource) Snapshot() (*policy.Snapshot, error) { return s.snap, nil }

type fakeHints struct {
	hints []Hint
	err   error
	calls int
}

func (f *fakeHints) EntityHints(ctx context.Context, question string, k int) ([]Hint, error) {
	f.calls++
	return f.hints, f.err
}

func shippedPlanner(t *testing.T) *Planner {
	t.Helper()
	store, err := policy.NewStore(filepath.Join("..", "..", "data"), logger.NewNopLogger())
	require.NoError(t, err)
	return NewPlanner(store, nil, logger.NewNopLogger())
}

// tinySnapshot builds a two-intent ontology for gate and fusion tests.
func tinySnapshot(t *testing.T, thresholds string) *policy.Snapshot {
	t.Helper()
	var contracts []*ontology.EntityContract
	for _, name := range []string{"e_alpha", "e_beta"} {
		c, err := ontology.ParseEntity(name+".yaml", []byte("entity: "+name+"\nview: vw_"+name+"\nresult_key: "+name+"\nreturn_columns: [ticker, value]\n"))
		require.NoError(t, err)
		contracts = append(contracts, c)
	}
	cat, err := ontology.NewCatalog("entity.yaml", []byte(`
intents:
  - name: alpha
    tokens: {include: [preco, valor]}
    entities: [e_alpha]
  - name: beta
    tokens: {include: [preco]}
    entities: [e_beta]
`), contracts, nil)
	require.NoError(t, err)
	th, err := policy.ParseThresholds("t.yaml", []byte(thresholds))
	require.NoError(t, err)
	return &policy.Snapshot{Catalog: cat, Thresholds: th}
}

func TestExplainRoutesShippedOntology(t *testing.T) {
	p := shippedPlanner(t)
	tests := []struct {
		question string
		intent   string
		entity   string
	}{
		{"Qual o CNPJ do HGLG11?", "cadastro", "fiis_cadastro"},
		{"Preço do HGLG11 hoje", "precos", "fiis_precos"},
		{"soma de dividendos do MXRF11 nos últimos 3 meses", "dividendos", "fiis_dividendos"},
		{"dy médio do MXRF11 nos últimos 3 pagamentos", "yields", "fiis_yield_history"},
		{"explique o que é beta em FIIs", "risco", "fiis_financials_risk"},
		{"compare HGLG11 e MXRF11", "comparativo", "fiis_precos"},
		{"qual a selic atual?", "macro", "macro_indicadores"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			plan, err := p.Explain(context.Background(), tt.question, "")
			require.NoError(t, err)
			assert.True(t, plan.Accepted, plan.Trace.Explain.Scoring.Reason)
			assert.Equal(t, tt.intent, plan.Intent)
			assert.Equal(t, tt.entity, plan.Entity)
		})
	}
}

func TestExplainRejectsUnknownQuestion(t *testing.T) {
	p := shippedPlanner(t)
	plan, err := p.Explain(context.Background(), "bom dia, tudo bem?", "")
	require.NoError(t, err)

	assert.False(t, plan.Accepted)
	assert.Empty(t, plan.Entity)
	assert.Equal(t, ReasonLowScore, plan.Trace.Explain.Scoring.Reason)
	last := plan.Trace.Explain.DecisionPath[len(plan.Trace.Explain.DecisionPath)-1]
	assert.Equal(t, "acceptance", last.Stage)
	assert.Equal(t, "rejected", last.Outcome)
}

func TestExplainBucketDropsIntentsOutsideBucket(t *testing.T) {
	p := shippedPlanner(t)
	plan, err := p.Explain(context.Background(), "ipca do HGLG11", "")
	require.NoError(t, err)

	assert.Equal(t, "fii", plan.Bucket)
	assert.Contains(t, plan.Trace.Explain.Bucket.Dropped, "macro")
	assert.NotEqual(t, "macro", plan.Intent)
	assert.False(t, plan.Accepted)
}

func TestExplainTraceShape(t *testing.T) {
	p := shippedPlanner(t)
	plan, err := p.Explain(context.Background(), "Qual o CNPJ do HGLG11?", "")
	require.NoError(t, err)

	tr := plan.Trace
	assert.Equal(t, "qual o cnpj do hglg11?", tr.Normalized)
	assert.Equal(t, []string{"qual", "o", "cnpj", "do", "hglg11"}, tr.Tokens)
	assert.Len(t, tr.IntentScores, 8)
	assert.Equal(t, 1.0, tr.IntentScores["cadastro"])
	assert.Equal(t, -1.0, tr.IntentScores["precos"])
	assert.Equal(t, "cadastro", tr.Chosen.Intent)
	assert.Nil(t, tr.Explain.Fusion)

	var stages []string
	for _, n := range tr.Explain.DecisionPath {
		stages = append(stages, n.Stage)
	}
	assert.Equal(t, []string{"normalize", "bucket", "acceptance"}, stages)
}

func TestAntiTokenGroupPenalty(t *testing.T) {
	p := shippedPlanner(t)
	plan, err := p.Explain(context.Background(), "compare o preço do HGLG11 e MXRF11", "")
	require.NoError(t, err)

	for _, d := range plan.Trace.Details {
		if d.Intent == "precos" {
			assert.Equal(t, []string{"comparativo"}, d.AntiGroups)
			assert.Equal(t, 0.5, d.Base)
		}
	}
}

func TestGapGate(t *testing.T) {
	snap := tinySnapshot(t, "defaults: {min_score: 1.0, min_gap: 0.5}")
	p := NewPlanner(staticSource{snap}, nil, logger.NewNopLogger())

	plan := p.ExplainWith(context.Background(), snap, "preco", "")
	assert.False(t, plan.Accepted)
	assert.Equal(t, "alpha", plan.Intent, "ties keep ontology order")
	assert.Equal(t, ReasonLowGap, plan.Trace.Explain.Scoring.Reason)
	assert.Equal(t, 0.0, plan.Trace.Explain.Scoring.Gap)

	plan = p.ExplainWith(context.Background(), snap, "preco valor", "")
	assert.True(t, plan.Accepted)
	assert.Equal(t, "e_alpha", plan.Entity)
	assert.Equal(t, 1.0, plan.Trace.Explain.Scoring.Gap)
}

func TestFusionChangesWinner(t *testing.T) {
	snap := tinySnapshot(t, `
defaults: {min_score: 0.5, min_gap: 0.1}
apply_on: fused
rag_fusion: {enabled: true, weight: 0.5, k: 3, min_score: 0.2}
`)
	hints := &fakeHints{hints: []Hint{
		{DocID: "d1", Entity: "e_beta", Score: 0.9},
		{DocID: "d2", Entity: "e_alpha", Score: 0.1},
	}}
	p := NewPlanner(staticSource{snap}, hints, logger.NewNopLogger())

	plan := p.ExplainWith(context.Background(), snap, "preco", "")
	require.NotNil(t, plan.Trace.Explain.Fusion)
	f := plan.Trace.Explain.Fusion
	assert.Equal(t, "beta", f.Winner)
	assert.True(t, f.Changed)
	assert.Len(t, f.Hints, 1, "hints under min_score are discarded")
	assert.InDelta(t, 0.95, plan.Trace.IntentScores["beta"], 1e-9)
	assert.InDelta(t, 0.5, plan.Trace.IntentScores["alpha"], 1e-9)
	assert.True(t, plan.Accepted)
	assert.Equal(t, "e_beta", plan.Entity)
	assert.Equal(t, 1, hints.calls)
}

func TestFusionErrorDegradesToBaseScores(t *testing.T) {
	snap := tinySnapshot(t, `
defaults: {min_score: 1.0, min_gap: 0.5}
rag_fusion: {enabled: true, weight: 0.5}
`)
	p := NewPlanner(staticSource{snap}, &fakeHints{err: errors.New("index missing")}, logger.NewNopLogger())

	plan := p.ExplainWith(context.Background(), snap, "preco valor", "")
	require.NotNil(t, plan.Trace.Explain.Fusion)
	assert.Equal(t, "index missing", plan.Trace.Explain.Fusion.Error)
	assert.Equal(t, 2.0, plan.Trace.IntentScores["alpha"])
	assert.True(t, plan.Accepted)

	var degraded bool
	for _, n := range plan.Trace.Explain.DecisionPath {
		if n.Stage == "fusion" && n.Outcome == "degraded" && n.Type == "warning" {
			degraded = true
		}
	}
	assert.True(t, degraded)
}
