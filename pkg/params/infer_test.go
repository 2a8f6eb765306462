package params

import (
	"path/filepath"
	"testing"

	"araquem/internal/pkg/logger"
	"araquem/pkg/identifiers"
	"araquem/pkg/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadSnapshot(t *testing.T) *policy.Snapshot {
	t.Helper()
	store, err := policy.NewStore(filepath.Join("..", "..", "data"), logger.NewNopLogger())
	require.NoError(t, err)
	return store.Current()
}

func infer(t *testing.T, snap *policy.Snapshot, question, intent, entity string) Inference {
	t.Helper()
	c, ok := snap.Catalog.Entity(entity)
	require.True(t, ok)
	return Infer(question, intent, c, snap.Params, identifiers.Extract(question, nil))
}

func TestInferAggAndWindow(t *testing.T) {
	snap := loadSnapshot(t)
	tests := []struct {
		name     string
		question string
		intent   string
		entity   string
		agg      string
		window   string
		limit    int
	}{
		{"sum over months", "soma de dividendos do MXRF11 nos últimos 3 meses", "dividendos", "fiis_dividendos", "sum", "months:3", 12},
		{"sum over twelve months", "soma de dividendos do MXRF11 nos últimos 12 meses", "dividendos", "fiis_dividendos", "sum", "months:12", 12},
		{"avg over count", "dy médio do MXRF11 nos últimos 3 pagamentos", "yields", "fiis_yield_history", "avg", "count:3", 12},
		{"list limit follows count", "dividendos do MXRF11 nos ultimos 6 pagamentos", "dividendos", "fiis_dividendos", "list", "count:6", 6},
		{"intent defaults", "dividendos do MXRF11", "dividendos", "fiis_dividendos", "list", "count:12", 12},
		{"number words", "dividendos do MXRF11 nos ultimos tres pagamentos", "dividendos", "fiis_dividendos", "list", "count:3", 3},
		{"count wins over months", "ultimos 3 pagamentos dos ultimos 12 meses do MXRF11", "dividendos", "fiis_dividendos", "list", "count:3", 3},
		{"fixed phrase", "soma dos dividendos do MXRF11 no ultimo ano", "dividendos", "fiis_dividendos", "sum", "months:12", 12},
		{"disallowed window falls back", "dividendos do MXRF11 nos ultimos 7 pagamentos", "dividendos", "fiis_dividendos", "list", "count:12", 12},
		{"latest keyword", "Preço do HGLG11 hoje", "precos", "fiis_precos", "latest", "months:1", 1},
		{"years become months", "preço medio do HGLG11 nos ultimos 2 anos", "precos", "fiis_precos", "avg", "months:24", 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := infer(t, snap, tt.question, tt.intent, tt.entity)
			assert.Equal(t, tt.agg, inf.Params.Agg)
			assert.Equal(t, tt.window, inf.Params.Window)
			assert.Equal(t, tt.limit, inf.Params.Limit)
		})
	}
}

func TestInferRequestedMetricsKeepDeclarationOrder(t *testing.T) {
	snap := loadSnapshot(t)

	inf := infer(t, snap, "beta e sharpe do HGLG11", "risco", "fiis_financials_risk")
	assert.Equal(t, []string{"beta_index", "sharpe_ratio"}, inf.RequestedMetrics)
	assert.Empty(t, inf.FocusMetricKey)

	inf = infer(t, snap, "dy médio do MXRF11", "yields", "fiis_yield_history")
	assert.Equal(t, []string{"dy_monthly"}, inf.RequestedMetrics)
	assert.Equal(t, "dy_monthly", inf.FocusMetricKey)
	assert.Equal(t, "dy_monthly", inf.Params.Metric)
}

func TestInferTickers(t *testing.T) {
	snap := loadSnapshot(t)

	inf := infer(t, snap, "compare HGLG11 e MXRF11", "comparativo", "fiis_precos")
	assert.Empty(t, inf.Ticker)
	assert.Equal(t, []string{"HGLG11", "MXRF11"}, inf.Tickers)

	inf = infer(t, snap, "cnpj do HGLG11", "cadastro", "fiis_cadastro")
	assert.Equal(t, "HGLG11", inf.Ticker)
	assert.Equal(t, []string{"HGLG11"}, inf.Tickers)
}

func TestInferYearAndOrder(t *testing.T) {
	snap := loadSnapshot(t)
	inf := infer(t, snap, "dividendos do MXRF11 em 2024 em ordem crescente", "dividendos", "fiis_dividendos")
	assert.Equal(t, "2024-01-01", inf.Params.PeriodStart)
	assert.Equal(t, "2024-12-31", inf.Params.PeriodEnd)
	assert.Empty(t, inf.Params.Window)
	assert.Equal(t, "asc", inf.Params.Order)
}

func TestInferUnknownIntentReturnsDefaults(t *testing.T) {
	snap := loadSnapshot(t)
	c, _ := snap.Catalog.Entity("fiis_precos")
	inf := Infer("qualquer coisa", "nao_existe", c, snap.Params, identifiers.Identifiers{Tickers: []string{}})
	assert.Equal(t, "list", inf.Params.Agg)
	assert.Equal(t, 10, inf.Params.Limit)
	assert.Equal(t, "desc", inf.Params.Order)
	assert.Empty(t, inf.Params.Window)
}

func TestSplitWindow(t *testing.T) {
	kind, n, ok := SplitWindow("count:3")
	assert.True(t, ok)
	assert.Equal(t, "count", kind)
	assert.Equal(t, 3, n)

	_, _, ok = SplitWindow("3 meses")
	assert.False(t, ok)
}
