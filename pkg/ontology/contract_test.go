package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dividendsContract = `
entity: fiis_dividendos
view: vw_fiis_dividendos
result_key: dividendos_fii
default_date_field: payment_date
requires_ticker: true
supports_multi_ticker: true
return_columns: [ticker, payment_date, dividend_amt]
order_by_whitelist: [payment_date, dividend_amt]
default_order: {field: payment_date, direction: desc}
aggregations: {value_column: dividend_amt, value_columns: [dividend_amt]}
metrics_synonyms:
  dividend_amt: [dividendo, provento]
  payment_date: [data de pagamento]
metrics:
  dividends_sum: {source: vw_fiis_dividendos, date_field: payment_date, expr: "SUM(dividend_amt)"}
  dividends_count: {source: vw_fiis_dividendos, date_field: payment_date, expr: "COUNT(*)"}
`

func TestParseEntityKeepsDeclarationOrder(t *testing.T) {
	c, err := ParseEntity("fiis_dividendos.yaml", []byte(dividendsContract))
	require.NoError(t, err)

	require.Len(t, c.MetricsSynonyms, 2)
	assert.Equal(t, "dividend_amt", c.MetricsSynonyms[0].Metric)
	assert.Equal(t, "payment_date", c.MetricsSynonyms[1].Metric)

	require.Len(t, c.Metrics, 2)
	assert.Equal(t, "dividends_sum", c.Metrics[0].Key)
	assert.Equal(t, "dividends_count", c.Metrics[1].Key)

	m, ok := c.Metric("dividends_count")
	require.True(t, ok)
	assert.Equal(t, "COUNT(*)", m.Expr)

	assert.True(t, c.HasTickerColumn())
	assert.True(t, c.OrderAllowed("dividend_amt"))
	assert.False(t, c.OrderAllowed("ticker"))
}

func TestParseEntityValidation(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"bad view", "entity: e\nview: \"v; drop\"\nresult_key: r\nreturn_columns: [a]\n", "view"},
		{"no columns", "entity: e\nview: v\nresult_key: r\n", "return_columns"},
		{"ticker required but absent", "entity: e\nview: v\nresult_key: r\nrequires_ticker: true\nreturn_columns: [a]\n", "requires_ticker"},
		{"order outside whitelist", "entity: e\nview: v\nresult_key: r\nreturn_columns: [a]\norder_by_whitelist: [a]\ndefault_order: {field: b}\n", "default_order.field"},
		{"bad direction", "entity: e\nview: v\nresult_key: r\nreturn_columns: [a]\ndefault_order: {direction: up}\n", "default_order.direction"},
		{"value column not returned", "entity: e\nview: v\nresult_key: r\nreturn_columns: [a]\naggregations: {value_column: b}\n", "aggregations.value_column"},
		{"metric expression injection", "entity: e\nview: v\nresult_key: r\nreturn_columns: [a]\nmetrics:\n  m: {source: v, expr: \"1; DROP TABLE x\"}\n", "metrics.m.expr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntity("e.yaml", []byte(tt.doc))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNewCatalogRejectsUnknownEntity(t *testing.T) {
	c, err := ParseEntity("fiis_dividendos.yaml", []byte(dividendsContract))
	require.NoError(t, err)

	_, err = NewCatalog("entity.yaml", []byte("intents:\n  - {name: a, entities: [fiis_precos]}\n"), []*EntityContract{c}, nil)
	require.Error(t, err)

	cat, err := NewCatalog("entity.yaml", []byte("intents:\n  - {name: a, entities: [fiis_dividendos]}\n"), []*EntityContract{c}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fiis_dividendos"}, cat.EntityNames())
}
