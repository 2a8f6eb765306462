package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/cache"
	"araquem/pkg/executor"
	"araquem/pkg/narrator"
	"araquem/pkg/params"
	"araquem/pkg/planner"
	"araquem/pkg/policy"
	"araquem/pkg/rag"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	entity string
	sql    string
	params map[string]interface{}
}

// fakeExec answers list/latest queries from rows and SUM/AVG queries from
// aggRows, so each query shape gets rows carrying its own columns.
type fakeExec struct {
	mu      sync.Mutex
	calls   []call
	rows    map[string][]executor.Row
	aggRows map[string][]executor.Row
	err     error
}

func (f *fakeExec) Query(_ context.Context, entity, sql string, params map[string]interface{}) ([]executor.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{entity: entity, sql: sql, params: params})
	if f.err != nil {
		return nil, f.err
	}
	src := f.rows[entity]
	if strings.Contains(sql, " AS metric,") {
		src = f.aggRows[entity]
	}
	out := make([]executor.Row, 0, len(src))
	for _, r := range src {
		cp := executor.Row{}
		for k, v := range r {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

type fakeRAG struct {
	mu   sync.Mutex
	reqs []rag.Request
}

func (f *fakeRAG) BuildContext(_ context.Context, req rag.Request) *rag.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	d := rag.Decide(req.Policy, req.Intent, req.Entity)
	return &rag.Context{Enabled: d.Enabled, Reason: d.Reason, Intent: req.Intent, Entity: req.Entity, ComputeMode: req.ComputeMode}
}

type mapMemory struct {
	refs map[string]LastReference
}

func (m *mapMemory) Get(id string) (LastReference, bool) {
	r, ok := m.refs[id]
	return r, ok
}

func (m *mapMemory) Put(id string, ref LastReference, _ time.Duration) {
	m.refs[id] = ref
}

func shippedRows() map[string][]executor.Row {
	return map[string][]executor.Row{
		"fiis_cadastro": {{
			"ticker": "HGLG11", "fii_cnpj": "11.728.688/0001-47", "display_name": "CSHG Logística",
			"admin_name": "Credit Suisse Hedging-Griffo", "admin_cnpj": "61.809.182/0001-30",
			"website_url": "https://www.cshg.com.br", "sector": "Logística", "classification": "Tijolo",
		}},
		"fiis_precos": {
			{"ticker": "HGLG11", "traded_at": "2024-05-10", "close_price": 160.5, "open_price": 159.0, "max_price": 161.0, "min_price": 158.9, "daily_variation_pct": 0.9},
			{"ticker": "MXRF11", "traded_at": "2024-05-10", "close_price": 10.4, "open_price": 10.3, "max_price": 10.5, "min_price": 10.3, "daily_variation_pct": 0.5},
		},
		"fiis_dividendos": {
			{"ticker": "MXRF11", "payment_date": "2024-04-15", "traded_until_date": "2024-03-28", "dividend_amt": 0.1},
			{"ticker": "MXRF11", "payment_date": "2024-03-15", "traded_until_date": "2024-02-29", "dividend_amt": 0.1},
		},
		"fiis_financials_risk": {{
			"ticker": "KNRI11", "volatility_ratio": 0.12, "sharpe_ratio": 0.8, "treynor_ratio": 0.1, "beta_index": 0.42,
			"max_drawdown": -0.2, "r_squared": 0.5, "updated_at": "2024-05-01",
		}},
	}
}

func shippedAggRows() map[string][]executor.Row {
	return map[string][]executor.Row{
		"fiis_dividendos": {{
			"ticker": "MXRF11", "metric": "dividend_amt", "value": 0.3, "period_start": "2024-02-15", "period_end": "2024-04-15", "rows_count": int64(3),
		}},
		"fiis_yield_history": {{
			"ticker": "MXRF11", "metric": "dy_monthly", "value": 0.95, "period_start": "2024-02-01", "period_end": "2024-04-01", "rows_count": int64(3),
		}},
	}
}

type harness struct {
	orch   *Orchestrator
	exec   *fakeExec
	rag    *fakeRAG
	memory *mapMemory
	cache  *cache.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewNopLogger()
	store, err := policy.NewStore(filepath.Join("..", "..", "data"), log)
	require.NoError(t, err)
	h := &harness{
		exec:   &fakeExec{rows: shippedRows(), aggRows: shippedAggRows()},
		rag:    &fakeRAG{},
		memory: &mapMemory{refs: map[string]LastReference{}},
		cache:  cache.New(cache.NewMemoryBackend(), "test", log),
	}
	h.orch = NewOrchestrator(store, planner.NewPlanner(store, nil, log), h.exec, h.cache, h.rag, h.memory, log)
	return h
}

func (h *harness) ask(t *testing.T, q string) *Result {
	t.Helper()
	res, err := h.orch.RouteQuestion(context.Background(), Request{Question: q, ConversationID: "conv-1"})
	require.NoError(t, err)
	return res
}

var keyRe = regexp.MustCompile(`^araquem:test:[0-9a-f]+:pub:[a-z_]+:[0-9a-f]{16}$`)

func TestRouteQuestionCadastro(t *testing.T) {
	h := newHarness(t)
	res := h.ask(t, "Qual o CNPJ do HGLG11?")

	assert.Equal(t, ReasonOK, res.Status.Reason)
	assert.Equal(t, "cadastro", res.Meta.Intent)
	assert.Equal(t, "fiis_cadastro", res.Meta.Entity)
	assert.Equal(t, "cadastro_fii", res.Meta.ResultKey)
	rows := res.Results["cadastro_fii"]
	require.Len(t, rows, 1)
	assert.Equal(t, "HGLG11", rows[0]["ticker"])
	for _, k := range []string{"ticker", "fii_cnpj", "display_name", "admin_name", "admin_cnpj", "website_url"} {
		assert.Contains(t, rows[0], k)
	}
	assert.Equal(t, len(rows), res.Meta.RowsTotal)
	assert.Regexp(t, keyRe, res.Meta.Cache.Key)
	assert.False(t, res.Meta.Cache.Hit)
	assert.Contains(t, h.exec.calls[0].sql, "ticker = @ticker")

	require.Len(t, h.rag.reqs, 1)
	assert.False(t, res.Meta.RAG.Enabled)
	assert.Equal(t, rag.ReasonIntentDenied, res.Meta.RAG.Reason)

	ref, ok := h.memory.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, []string{"HGLG11"}, ref.Tickers)
}

func TestRouteQuestionCachesAndKeysDifferByWindow(t *testing.T) {
	h := newHarness(t)

	r3 := h.ask(t, "soma de dividendos do MXRF11 nos últimos 3 meses")
	r3again := h.ask(t, "soma de dividendos do MXRF11 nos últimos 3 meses")
	r12 := h.ask(t, "soma de dividendos do MXRF11 nos últimos 12 meses")

	assert.Equal(t, "sum", r3.Meta.Aggregates["agg"])
	assert.Equal(t, "months:3", r3.Meta.Aggregates["window"])
	assert.Equal(t, "months:12", r12.Meta.Aggregates["window"])
	assert.NotEqual(t, r3.Meta.Cache.Key, r12.Meta.Cache.Key)
	assert.Equal(t, r3.Meta.Cache.Key, r3again.Meta.Cache.Key)
	assert.Equal(t, r3.Meta.PlanHash, r3again.Meta.PlanHash)
	assert.True(t, r3again.Meta.Cache.Hit)
	assert.Len(t, h.exec.calls, 2)
	assert.Equal(t, r3.Meta.RowsTotal, r3again.Meta.RowsTotal)
	assert.EqualValues(t, r3.Rows()[0]["value"], r3again.Rows()[0]["value"])
}

func TestRouteQuestionCountWindow(t *testing.T) {
	h := newHarness(t)
	res := h.ask(t, "dy médio do MXRF11 nos últimos 3 pagamentos")

	assert.Equal(t, "yields", res.Meta.Intent)
	assert.Equal(t, "avg", res.Meta.Aggregates["agg"])
	assert.Equal(t, "count:3", res.Meta.Aggregates["window"])
	assert.Equal(t, 3, h.exec.calls[0].params["window_count"])
	assert.True(t, res.Meta.RAG.Enabled)
}

func TestRouteQuestionMultiTicker(t *testing.T) {
	h := newHarness(t)
	res := h.ask(t, "compare HGLG11 e MXRF11")

	assert.Equal(t, ReasonOK, res.Status.Reason)
	assert.Equal(t, "fiis_precos", res.Meta.Entity)
	require.Len(t, h.exec.calls, 1)
	assert.Contains(t, h.exec.calls[0].sql, "ticker = ANY(@tickers)")
	assert.Equal(t, []string{"HGLG11", "MXRF11"}, h.exec.calls[0].params["tickers"])
	assert.GreaterOrEqual(t, len(res.Rows()), 2)
	assert.Equal(t, "any", res.Meta.MultiTickerMode)
}

func TestRouteQuestionConceptMode(t *testing.T) {
	h := newHarness(t)
	res := h.ask(t, "explique o que é beta em FIIs")

	assert.Equal(t, ReasonOK, res.Status.Reason)
	assert.Equal(t, "fiis_financials_risk", res.Meta.Entity)
	assert.Equal(t, narrator.ModeConcept, res.Meta.ComputeMode)
	assert.Equal(t, narrator.ModeConcept, h.rag.reqs[0].ComputeMode)
	assert.False(t, h.rag.reqs[0].HasTicker)
	assert.Nil(t, res.Meta.LastReference)
}

func TestRouteQuestionUnroutable(t *testing.T) {
	h := newHarness(t)
	res := h.ask(t, "bom dia, tudo bem?")

	assert.Equal(t, ReasonUnroutable, res.Status.Reason)
	assert.True(t, strings.HasPrefix(res.Status.Message, "planner_gate:"))
	assert.Empty(t, res.Results)
	assert.Empty(t, h.exec.calls)
	assert.Empty(t, h.rag.reqs)
}

func TestContextGateAndInheritance(t *testing.T) {
	h := newHarness(t)

	res := h.ask(t, "quais foram os dividendos pagos?")
	assert.Equal(t, ReasonUnroutable, res.Status.Reason)
	assert.Equal(t, "context_gate:missing_identifier", res.Status.Message)
	assert.Empty(t, h.exec.calls)

	h.memory.refs["conv-1"] = LastReference{Entity: "fiis_precos", Tickers: []string{"MXRF11"}}
	res = h.ask(t, "quais foram os dividendos pagos?")
	assert.Equal(t, ReasonOK, res.Status.Reason, res.Status.Message)
	assert.Equal(t, "fiis_dividendos", res.Meta.Entity)
	require.NotNil(t, res.Meta.LastReference)
	assert.Equal(t, []string{"MXRF11"}, res.Meta.LastReference.Tickers)
	require.Len(t, h.exec.calls, 1)
	assert.Equal(t, "MXRF11", h.exec.calls[0].params["ticker"])
	rows := res.Results["dividendos_fii"]
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-04-15", rows[0]["payment_date"])
	assert.Equal(t, 0.1, rows[0]["dividend_amt"])
}

func TestProjectionGate(t *testing.T) {
	h := newHarness(t)
	h.exec.rows["fiis_cadastro"] = []executor.Row{{"ticker": "HGLG11"}}

	res := h.ask(t, "Qual o CNPJ do HGLG11?")
	assert.Equal(t, ReasonUnroutable, res.Status.Reason)
	assert.Equal(t, "projection_gate:missing_columns", res.Status.Message)
	last := res.Meta.Gates[len(res.Meta.Gates)-1]
	assert.Equal(t, GateProjection, last.Gate)
	assert.False(t, last.Passed)

	// a rejected payload is never cached
	h.exec.rows = shippedRows()
	res = h.ask(t, "Qual o CNPJ do HGLG11?")
	assert.Equal(t, ReasonOK, res.Status.Reason)
	assert.False(t, res.Meta.Cache.Hit)
}

func TestExecutorErrorPropagates(t *testing.T) {
	h := newHarness(t)
	h.exec.err = &executor.QueryError{Entity: "fiis_cadastro", Fingerprint: "abc", Err: errors.New("boom")}

	_, err := h.orch.RouteQuestion(context.Background(), Request{Question: "Qual o CNPJ do HGLG11?"})
	var qe *executor.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "abc", qe.Fingerprint)
}

func TestSuppliedPlanIsReused(t *testing.T) {
	h := newHarness(t)
	plan := &planner.PlanResult{Intent: "cadastro", Entity: "fiis_cadastro", Score: 9, Accepted: true}
	plan.Trace.Explain.Scoring.Reason = planner.ReasonAccepted

	res, err := h.orch.RouteQuestion(context.Background(), Request{Question: "dados do HGLG11", Plan: plan})
	require.NoError(t, err)
	assert.Equal(t, "fiis_cadastro", res.Meta.Entity)
	assert.Equal(t, 9.0, res.Meta.Planner.Score)
}

func TestNormaliseMetricsWindow(t *testing.T) {
	assert.Equal(t, map[string]interface{}{"metrics_window": "months:12", "window_months": 12},
		NormaliseMetricsWindow(paramsFor("metrics", "count:3")))
	assert.Equal(t, map[string]interface{}{"metrics_window": "months:6", "window_months": 6},
		NormaliseMetricsWindow(paramsFor("metrics", "months:6")))
	p := paramsFor("metrics", "")
	p.PeriodStart, p.PeriodEnd = "2023-01-01", "2023-12-31"
	assert.Equal(t, "period", NormaliseMetricsWindow(p)["metrics_window"])

	kind, n, ok := SplitWindow("count:5")
	assert.True(t, ok)
	assert.Equal(t, "count", kind)
	assert.Equal(t, 5, n)
	_, _, ok = SplitWindow("weeks:2")
	assert.False(t, ok)
}

func TestPlanHashChangesWithReference(t *testing.T) {
	plan := &planner.PlanResult{Intent: "dividendos", Entity: "fiis_dividendos"}
	agg := paramsFor("list", "count:12")
	base := PlanHash(plan, ExtractIdentifiers("MXRF11", nil), agg, nil)
	assert.Len(t, base, 40)
	assert.Equal(t, base, PlanHash(plan, ExtractIdentifiers("mxrf11", nil), agg, nil))
	assert.NotEqual(t, base, PlanHash(plan, ExtractIdentifiers("MXRF11", nil), agg, &LastReference{Tickers: []string{"MXRF11"}}))
}

func paramsFor(agg, window string) params.AggParams {
	return params.AggParams{Agg: agg, Window: window, Order: "desc", Limit: 10}
}
