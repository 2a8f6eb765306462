package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	results := map[string][]Row{
		"precos_fii": {
			{"ticker": "HGLG11", "close_price": 160.5},
			{"ticker": "HGLG11", "close_price": 159.1},
		},
	}
	f := Build(Input{
		Question:         "Preço do HGLG11 hoje",
		Intent:           "precos",
		Entity:           "fiis_precos",
		ResultKey:        "precos_fii",
		Results:          results,
		Tickers:          []string{"HGLG11"},
		RequestedMetrics: []string{"close_price"},
	})

	assert.Equal(t, "precos_fii", f.ResultKey)
	assert.Len(t, f.Rows, 2)
	assert.Equal(t, 160.5, f.Primary["close_price"])
	assert.Equal(t, "HGLG11", f.Ticker)
	assert.True(t, f.HasTicker())

	f.Rows[0]["close_price"] = 0.0
	assert.Equal(t, 160.5, results["precos_fii"][0]["close_price"])
}

func TestBuildWithoutTickersUsesPrimary(t *testing.T) {
	f := Build(Input{
		ResultKey: "financials_risk_fii",
		Results:   map[string][]Row{"financials_risk_fii": {{"ticker": "KNRI11", "beta_index": 0.4}}},
	})
	assert.Equal(t, "KNRI11", f.Ticker)

	empty := Build(Input{ResultKey: "financials_risk_fii", Results: map[string][]Row{}})
	assert.Nil(t, empty.Primary)
	assert.Empty(t, empty.Rows)
	assert.False(t, empty.HasTicker())
}

func TestResolveResultKey(t *testing.T) {
	assert.Equal(t, "a", ResolveResultKey("a", map[string][]Row{"a": nil, "b": {{}}}))
	assert.Equal(t, "only", ResolveResultKey("declared", map[string][]Row{"only": nil}))
	assert.Equal(t, "c", ResolveResultKey("x", map[string][]Row{"b": nil, "c": {{}}, "d": {{}}}))
	assert.Equal(t, "x", ResolveResultKey("x", nil))
}
