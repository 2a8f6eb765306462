package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"araquem/internal/dto"
	"araquem/internal/pkg/logger"
	"araquem/pkg/cache"
	"araquem/pkg/executor"
	"araquem/pkg/narrator"
	"araquem/pkg/orchestrator"
	"araquem/pkg/planner"
	"araquem/pkg/policy"
	"araquem/pkg/presenter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPolicies struct {
	snap *policy.Snapshot
	err  error
}

func (s staticPolicies) Snapshot() (*policy.Snapshot, error) { return s.snap, s.err }

type fakeRouter struct {
	res  *orchestrator.Result
	err  error
	reqs []orchestrator.Request
}

func (f *fakeRouter) RouteQuestion(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type fakePresenter struct {
	out presenter.Result
	in  *presenter.Input
}

func (f *fakePresenter) Present(_ context.Context, in presenter.Input) presenter.Result {
	f.in = &in
	return f.out
}

type recordingAnalytics struct {
	mu       sync.Mutex
	explain  []*dto.ExplainEventMessage
	narrator []*dto.NarratorEventMessage
	err      error
}

func (r *recordingAnalytics) PublishExplain(_ context.Context, ev *dto.ExplainEventMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.explain = append(r.explain, ev)
	return r.err
}

func (r *recordingAnalytics) PublishNarrator(_ context.Context, ev *dto.NarratorEventMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.narrator = append(r.narrator, ev)
	return r.err
}

func testSnapshot() *policy.Snapshot {
	return &policy.Snapshot{Version: "abc123def456", Quota: quotaPolicy()}
}

func okResult() *orchestrator.Result {
	rows := []executor.Row{{"ticker": "HGLG11", "fii_cnpj": "11.728.688/0001-47"}}
	return &orchestrator.Result{
		Status:  orchestrator.Status{Reason: orchestrator.ReasonOK, Message: "ok"},
		Results: map[string][]executor.Row{"cadastro_fii": rows},
		Meta: orchestrator.Meta{
			Planner:       orchestrator.PlannerMeta{Intent: "cadastro", Entity: "fiis_cadastro", Score: 3, Accepted: true},
			Intent:        "cadastro",
			Entity:        "fiis_cadastro",
			ResultKey:     "cadastro_fii",
			RowsTotal:     1,
			Cache:         cache.Result{Hit: true, Key: "araquem:dev:abc:pub:fiis_cadastro:0123456789abcdef"},
			Gates:         []orchestrator.GateOutcome{{Gate: orchestrator.GateBucket, Passed: true}},
			ConfigVersion: "abc123def456",
		},
		Plan:    &planner.PlanResult{Intent: "cadastro", Entity: "fiis_cadastro", Trace: planner.Trace{Normalized: "qual o cnpj do hglg11"}},
		Columns: []string{"ticker", "fii_cnpj"},
	}
}

func newAsk(router Router, pres Presenter, analytics IAnalyticsService) IAskService {
	return NewAskService(
		staticPolicies{snap: testSnapshot()},
		router,
		pres,
		NewQuotaService(cache.NewMemoryBackend(), logger.NewNopLogger()),
		analytics,
		logger.NewNopLogger(),
	)
}

func TestAskOK(t *testing.T) {
	router := &fakeRouter{res: okResult()}
	out := &narrator.Output{Text: "O CNPJ do HGLG11 é 11.728.688/0001-47.", Strategy: "llm_rewrite", Enabled: true}
	pres := &fakePresenter{out: presenter.Result{
		Answer:      out.Text,
		TemplateKey: "list",
		ComputeMode: narrator.ModeData,
		Narrator:    out,
	}}
	svc := newAsk(router, pres, &recordingAnalytics{})

	res, err := svc.Ask(context.Background(), &dto.AskRequest{
		Question:       "Qual o CNPJ do HGLG11?",
		ConversationID: "c1",
		ClientID:       "client-1",
		ComputeMode:    "data",
	}, false)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ReasonOK, res.Status.Reason)
	assert.Equal(t, out.Text, res.Answer)
	assert.Equal(t, "list", res.Meta.TemplateKey)
	assert.Equal(t, "HGLG11", res.Results["cadastro_fii"][0]["ticker"])
	assert.Equal(t, res.Meta.RowsTotal, len(res.Results[res.Meta.ResultKey]))
	assert.NotEmpty(t, res.Meta.RequestID)
	require.NotNil(t, res.Meta.Narrator)
	assert.Equal(t, narrator.ModeData, res.Meta.Narrator.ComputeMode)
	assert.Nil(t, res.Meta.Explain)
	assert.Nil(t, res.Meta.ExplainAnalytics)

	require.Len(t, router.reqs, 1)
	assert.Equal(t, "c1", router.reqs[0].ConversationID)
	require.NotNil(t, pres.in)
	assert.Equal(t, "cadastro_fii", pres.in.ResultKey)
	assert.Equal(t, "data", pres.in.RequestedMode)
	assert.Equal(t, res.Meta.RequestID, pres.in.RequestID)
}

func TestAskUnroutableAnswers(t *testing.T) {
	cases := []struct {
		message string
		answer  string
	}{
		{"planner_gate:low_score", answerUnroutable},
		{"bucket_gate:no_candidates", answerUnroutable},
		{"context_gate:missing_identifier", answerMissingTicker},
		{"projection_gate:missing_columns", answerMissingColumns},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			router := &fakeRouter{res: &orchestrator.Result{
				Status:  orchestrator.Status{Reason: orchestrator.ReasonUnroutable, Message: tc.message},
				Results: map[string][]executor.Row{},
			}}
			pres := &fakePresenter{}
			res, err := newAsk(router, pres, nil).Ask(context.Background(), &dto.AskRequest{Question: "bom dia"}, false)
			require.NoError(t, err)
			assert.Equal(t, orchestrator.ReasonUnroutable, res.Status.Reason)
			assert.Equal(t, tc.answer, res.Answer)
			assert.Nil(t, pres.in)
		})
	}
}

func TestAskBlockedByQuota(t *testing.T) {
	router := &fakeRouter{res: okResult()}
	svc := newAsk(router, &fakePresenter{out: presenter.Result{Answer: "x"}}, nil)
	req := &dto.AskRequest{Question: "Qual o CNPJ do HGLG11?", ClientID: "heavy", TypeUser: "free"}

	for i := 0; i < 2; i++ {
		res, err := svc.Ask(context.Background(), req, false)
		require.NoError(t, err)
		assert.Equal(t, orchestrator.ReasonOK, res.Status.Reason)
	}
	res, err := svc.Ask(context.Background(), req, false)
	require.NoError(t, err)
	assert.Equal(t, ReasonBlockedByQuota, res.Status.Reason)
	assert.Equal(t, answerQuota, res.Answer)
	require.NotNil(t, res.Meta.Quota)
	assert.Equal(t, int64(3), res.Meta.Quota.Used)
	assert.Len(t, router.reqs, 2)
}

func TestAskRoutingError(t *testing.T) {
	qerr := &executor.QueryError{Entity: "fiis_precos", Fingerprint: "abc", Err: errors.New("connection refused")}
	svc := newAsk(&fakeRouter{err: qerr}, &fakePresenter{}, nil)

	res, err := svc.Ask(context.Background(), &dto.AskRequest{Question: "Preço do HGLG11 hoje"}, false)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, orchestrator.ReasonError, res.Status.Reason)
	assert.Equal(t, MessageInternalError, res.Status.Message)
	assert.NotContains(t, res.Status.Message, "connection refused")
	assert.Equal(t, "abc", res.Meta.SQLFingerprint)
	assert.Equal(t, "fiis_precos", res.Meta.Entity)
	assert.NotEmpty(t, res.Answer)
}

func TestAskPolicyError(t *testing.T) {
	svc := NewAskService(staticPolicies{err: errors.New("decode policies/rag.yaml: bad yaml")}, &fakeRouter{}, &fakePresenter{}, nil, nil, logger.NewNopLogger())
	res, err := svc.Ask(context.Background(), &dto.AskRequest{Question: "x"}, false)
	require.Error(t, err)
	assert.Equal(t, orchestrator.ReasonError, res.Status.Reason)
	assert.Equal(t, MessagePolicyError, res.Status.Message)
	assert.Empty(t, res.Meta.SQLFingerprint)
}

func TestAskExplainPublishesEvents(t *testing.T) {
	analytics := &recordingAnalytics{}
	pres := &fakePresenter{out: presenter.Result{
		Answer:      "baseline",
		ComputeMode: narrator.ModeData,
		Narrator:    &narrator.Output{Strategy: "deterministic", Meta: narrator.Meta{Model: "llama3"}},
	}}
	svc := newAsk(&fakeRouter{res: okResult()}, pres, analytics)

	res, err := svc.Ask(context.Background(), &dto.AskRequest{Question: "Qual o CNPJ do HGLG11?", ClientID: "client-7"}, true)
	require.NoError(t, err)

	require.NotNil(t, res.Meta.Explain)
	assert.Equal(t, "qual o cnpj do hglg11", res.Meta.Explain.Normalized)
	require.NotNil(t, res.Meta.ExplainAnalytics)
	assert.True(t, res.Meta.ExplainAnalytics.Published)
	assert.True(t, res.Meta.ExplainAnalytics.CacheHit)

	require.Len(t, analytics.explain, 1)
	ev := analytics.explain[0]
	assert.Equal(t, res.Meta.RequestID, ev.RequestID)
	assert.Equal(t, "client-7", ev.ClientID)
	assert.Equal(t, "fiis_cadastro", ev.Entity)
	assert.Contains(t, string(ev.Trace), `"normalized":"qual o cnpj do hglg11"`)

	require.Len(t, analytics.narrator, 1)
	assert.Equal(t, "deterministic", analytics.narrator[0].Strategy)
	assert.Equal(t, "llama3", analytics.narrator[0].Model)
}

func TestAskExplainSurvivesPublishFailure(t *testing.T) {
	analytics := &recordingAnalytics{err: errors.New("bus closed")}
	svc := newAsk(&fakeRouter{res: okResult()}, &fakePresenter{out: presenter.Result{Answer: "baseline"}}, analytics)

	res, err := svc.Ask(context.Background(), &dto.AskRequest{Question: "Qual o CNPJ do HGLG11?"}, true)
	require.NoError(t, err)
	assert.Equal(t, "baseline", res.Answer)
	assert.False(t, res.Meta.ExplainAnalytics.Published)
}
