package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdsFallBackToDefaults(t *testing.T) {
	p, err := ParseThresholds("t.yaml", []byte(`
defaults: {min_score: 1.0, min_gap: 0.5}
intents:
  metricas: {min_score: 2.0, min_gap: 1.0}
rag_fusion: {enabled: true, weight: 0.3}
apply_on: fused
`))
	require.NoError(t, err)
	assert.Equal(t, Threshold{MinScore: 2.0, MinGap: 1.0}, p.For("metricas"))
	assert.Equal(t, Threshold{MinScore: 1.0, MinGap: 0.5}, p.For("precos"))
	assert.True(t, p.GateOnFused())
	assert.Equal(t, 5, p.RAGFusion.K)
}

func TestThresholdsRejectInvalidWeight(t *testing.T) {
	_, err := ParseThresholds("t.yaml", []byte("rag_fusion: {weight: 1.5}"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "rag_fusion.weight", verr.Field)
}

func TestCachePolicyFor(t *testing.T) {
	p, err := ParseCache("c.yaml", []byte(`
scope: pub
entities:
  a: {ttl_seconds: 60}
  b: {ttl_seconds: 0}
`))
	require.NoError(t, err)

	rule, ok := p.For("a")
	require.True(t, ok)
	assert.Equal(t, "pub", rule.Scope)

	_, ok = p.For("b")
	assert.False(t, ok)
	_, ok = p.For("missing")
	assert.False(t, ok)

	var nilPolicy *CachePolicy
	_, ok = nilPolicy.For("a")
	assert.False(t, ok)
}

func TestContextMayInherit(t *testing.T) {
	p := &ContextPolicy{Enabled: true, AllowedEntities: []string{"a", "b"}, DeniedEntities: []string{"b"}}
	assert.True(t, p.MayInherit("a"))
	assert.False(t, p.MayInherit("b"))
	assert.False(t, p.MayInherit("c"))

	p.AllowedEntities = nil
	assert.True(t, p.MayInherit("c"))

	p.Enabled = false
	assert.False(t, p.MayInherit("a"))
}

func TestQuotaLimitFor(t *testing.T) {
	p := &QuotaPolicy{Enabled: true, DefaultType: "free", Limits: map[string]int{"free": 10, "pro": 100}}
	assert.Equal(t, 10, p.LimitFor(""))
	assert.Equal(t, 100, p.LimitFor("pro"))
	assert.Equal(t, 10, p.LimitFor("unknown"))
}

func TestParamDefaults(t *testing.T) {
	p, err := ParseParamDefaults("p.yaml", []byte(`
number_words: {quatro: 4, vinte e quatro: 24, tres: 3}
window_patterns:
  months: ["ultimos? (\\d+) mes(es)?"]
  fixed: {ultimo ano: "months:12"}
intents:
  dividendos:
    default_window: "count:12"
    windows_allowed: {count: [3, 12]}
    agg_keywords: {sum: [soma], avg: [media]}
`))
	require.NoError(t, err)

	words := p.NumberWordsByLength()
	require.Len(t, words, 3)
	assert.Equal(t, "vinte e quatro", words[0].Word)

	ip, ok := p.Intent("dividendos")
	require.True(t, ok)
	assert.Equal(t, AggList, ip.DefaultAgg)
	require.Len(t, ip.AggKeywords, 2)
	assert.Equal(t, AggSum, ip.AggKeywords[0].Agg)
	assert.Len(t, p.MonthPatterns(), 1)
}

func TestParamDefaultsRejectsDisallowedDefaultWindow(t *testing.T) {
	_, err := ParseParamDefaults("p.yaml", []byte(`
intents:
  dividendos:
    default_window: "count:5"
    windows_allowed: {count: [3, 12]}
`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "intents.dividendos.default_window", verr.Field)
}

func TestParseWindow(t *testing.T) {
	kind, n, ok := ParseWindow("months:12")
	assert.True(t, ok)
	assert.Equal(t, "months", kind)
	assert.Equal(t, 12, n)

	for _, bad := range []string{"", "weeks:2", "months:0", "count:x", "months"} {
		_, _, ok := ParseWindow(bad)
		assert.False(t, ok, bad)
	}
}
