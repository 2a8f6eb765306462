// Package orchestrator drives one question through planning, parameter
// inference and the cached SQL path, fetching RAG context alongside.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/cache"
	"araquem/pkg/executor"
	"araquem/pkg/identifiers"
	"araquem/pkg/metrics"
	"araquem/pkg/narrator"
	"araquem/pkg/params"
	"araquem/pkg/planner"
	"araquem/pkg/policy"
	"araquem/pkg/rag"
	"araquem/pkg/sqlbuilder"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const moduleName = "ORCHESTRATOR"

var tracer = otel.Tracer("araquem/orchestrator")

// Planner plans a question against a snapshot the orchestrator already holds.
type Planner interface {
	ExplainWith(ctx context.Context, snap *policy.Snapshot, question, bucketHint string) *planner.PlanResult
}

// RAGBuilder never fails; a broken index yields a disabled context.
type RAGBuilder interface {
	BuildContext(ctx context.Context, req rag.Request) *rag.Context
}

// Memory keeps the last reference of each conversation.
type Memory interface {
	Get(conversationID string) (LastReference, bool)
	Put(conversationID string, ref LastReference, ttl time.Duration)
}

type Orchestrator struct {
	policies planner.SnapshotSource
	planner  Planner
	exec     executor.Querier
	cache    *cache.Cache
	rag      RAGBuilder
	memory   Memory
	logger   logger.ILogger
}

// NewOrchestrator wires the pipeline. cache, rag and memory may be nil.
func NewOrchestrator(policies planner.SnapshotSource, p Planner, exec executor.Querier, c *cache.Cache, ragBuilder RAGBuilder, memory Memory, log logger.ILogger) *Orchestrator {
	return &Orchestrator{
		policies: policies,
		planner:  p,
		exec:     exec,
		cache:    c,
		rag:      ragBuilder,
		memory:   memory,
		logger:   log,
	}
}

// RouteQuestion answers business outcomes (ok, unroutable) with a nil error.
// A non-nil error means the policies could not be loaded or SQL failed.
func (o *Orchestrator) RouteQuestion(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "orchestrator.route_question")
	defer span.End()

	snap, err := o.policies.Snapshot()
	if err != nil {
		metrics.Errors.WithLabelValues(metrics.KindPolicy).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy snapshot")
		return nil, fmt.Errorf("load policies: %w", err)
	}

	ids := ExtractIdentifiers(req.Question, snap)
	plan := o.PreparePlan(ctx, snap, req)
	res := &Result{
		Results:     map[string][]executor.Row{},
		Plan:        plan,
		Snapshot:    snap,
		Identifiers: ids,
		Meta: Meta{
			Planner:          plannerMeta(plan),
			Intent:           plan.Intent,
			Entity:           plan.Entity,
			Aggregates:       map[string]interface{}{},
			RequestedMetrics: []string{},
			Identifiers:      ids,
			ConfigVersion:    snap.Version,
		},
	}
	span.SetAttributes(attribute.String("araquem.intent", plan.Intent), attribute.String("araquem.entity", plan.Entity))

	bucketOK := plan.Trace.Explain.Scoring.Reason != planner.ReasonNoCandidates
	if !o.gate(res, GateBucket, bucketOK, "bucket_gate:no_candidates") {
		return o.finish(res, start), nil
	}
	if !o.gate(res, GatePlanner, plan.Accepted && plan.Entity != "", "planner_gate:"+plan.Trace.Explain.Scoring.Reason) {
		return o.finish(res, start), nil
	}

	contract, ok := snap.Catalog.Entity(plan.Entity)
	if !ok {
		metrics.Errors.WithLabelValues(metrics.KindPolicy).Inc()
		return nil, fmt.Errorf("entity %q has no contract", plan.Entity)
	}
	res.Contract = contract
	res.Meta.ResultKey = contract.ResultKey
	res.Results[contract.ResultKey] = []executor.Row{}

	ids, ref, ctxOK := o.resolveContext(snap, req, contract.Entity, contract.RequiresTicker, ids)
	res.Identifiers = ids
	res.Meta.Identifiers = ids
	res.Meta.LastReference = ref
	if !o.gate(res, GateContext, ctxOK, "context_gate:missing_identifier") {
		return o.finish(res, start), nil
	}

	inf := params.Infer(req.Question, plan.Intent, contract, snap.Params, ids)
	agg := inf.Params
	res.Meta.Aggregates = aggregates(agg)
	res.Meta.RequestedMetrics = inf.RequestedMetrics
	res.Meta.FocusMetric = inf.FocusMetricKey

	identity := ids.AsMap()
	for k, v := range aggregates(agg) {
		identity[k] = v
	}
	if agg.Agg == policy.AggMetrics {
		for k, v := range NormaliseMetricsWindow(agg) {
			identity[k] = v
		}
	}
	res.Meta.PlanHash = PlanHash(plan, ids, agg, ref)

	query, err := sqlbuilder.BuildSelect(contract, ids, agg)
	if err != nil {
		return nil, fmt.Errorf("build select for %s: %w", contract.Entity, err)
	}
	res.Columns = query.ReturnColumns
	res.Meta.MultiTickerMode = query.MultiTickerMode
	res.Meta.SQLFingerprint = executor.Fingerprint(query.SQL)
	res.Meta.Notes = append(res.Meta.Notes, query.Notes...)
	if len(query.DroppedTickers) > 0 {
		res.Meta.Notes = append(res.Meta.Notes, "multi_ticker_dropped")
	}
	res.Meta.ComputeMode = narrator.ModeFor(snap.Narrator, contract.Entity, req.ComputeMode, !ids.Empty())

	var (
		data     payload
		cacheRes cache.Result
		ragCtx   *rag.Context
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		data, cacheRes, err = cache.ReadThrough(gctx, o.cache, cache.Request{
			Version:  snap.Version,
			Policy:   snap.Cache,
			Entity:   contract.Entity,
			Identity: identity,
		}, func(ctx context.Context) (payload, error) {
			return o.runQuery(ctx, query)
		})
		return err
	})
	if o.rag != nil {
		g.Go(func() error {
			ragCtx = o.rag.BuildContext(gctx, rag.Request{
				Question:    req.Question,
				Intent:      plan.Intent,
				Entity:      contract.Entity,
				ComputeMode: res.Meta.ComputeMode,
				HasTicker:   !ids.Empty(),
				Policy:      snap.RAG,
			})
			return nil
		})
	}
	err = g.Wait()
	res.Meta.Cache = cacheRes
	res.Meta.RAG = ragCtx

	var projErr *ProjectionError
	switch {
	case errors.As(err, &projErr):
		o.gate(res, GateProjection, false, "projection_gate:missing_columns")
		res.Meta.Notes = append(res.Meta.Notes, "missing:"+projErr.Columns())
		return o.finish(res, start), nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		o.logger.Error(moduleName, "Query failed", map[string]interface{}{
			"entity":      contract.Entity,
			"fingerprint": res.Meta.SQLFingerprint,
			"error":       err.Error(),
		})
		return nil, err
	}
	o.gate(res, GateProjection, true, "")

	rows := data.Results[contract.ResultKey]
	if rows == nil {
		rows = []executor.Row{}
	}
	res.Results = map[string][]executor.Row{contract.ResultKey: rows}
	res.Meta.RowsTotal = len(rows)
	res.Status = Status{Reason: ReasonOK, Message: "ok"}

	if o.memory != nil && req.ConversationID != "" && !ids.Empty() {
		o.memory.Put(req.ConversationID, LastReference{
			Entity:  contract.Entity,
			Tickers: ids.Tickers,
			At:      time.Now().UTC(),
		}, snap.Context.TTL())
	}
	return o.finish(res, start), nil
}

// PreparePlan reuses a supplied plan whose entity is known, or plans afresh.
func (o *Orchestrator) PreparePlan(ctx context.Context, snap *policy.Snapshot, req Request) *planner.PlanResult {
	if req.Plan != nil {
		if _, ok := snap.Catalog.Entity(req.Plan.Entity); ok || !req.Plan.Accepted {
			return req.Plan
		}
		o.logger.Warn(moduleName, "Supplied plan names an unknown entity, replanning", map[string]interface{}{
			"entity": req.Plan.Entity,
		})
	}
	return o.planner.ExplainWith(ctx, snap, req.Question, req.BucketHint)
}

// ExtractIdentifiers runs the bounded ticker regex, restricted to the symbol
// table when one is configured.
func ExtractIdentifiers(question string, snap *policy.Snapshot) identifiers.Identifiers {
	var known []string
	if snap != nil && snap.Catalog != nil {
		known = snap.Catalog.Tickers
	}
	return identifiers.Extract(question, known)
}

// resolveContext inherits the conversation's last tickers for a
// ticker-bound entity when the question names none and the context policy
// lets the entity inherit. ok is false when a required ticker is still
// missing afterwards.
func (o *Orchestrator) resolveContext(snap *policy.Snapshot, req Request, entity string, requiresTicker bool, ids identifiers.Identifiers) (identifiers.Identifiers, *LastReference, bool) {
	if !ids.Empty() || !requiresTicker {
		return ids, nil, true
	}
	if o.memory == nil || req.ConversationID == "" || !snap.Context.MayInherit(entity) {
		return ids, nil, false
	}
	ref, found := o.memory.Get(req.ConversationID)
	if !found || len(ref.Tickers) == 0 {
		return ids, nil, false
	}
	o.logger.Debug(moduleName, "Inherited last reference", map[string]interface{}{
		"conversation_id": req.ConversationID,
		"tickers":         ref.Tickers,
	})
	return identifiers.FromList(ref.Tickers), &ref, true
}

func (o *Orchestrator) runQuery(ctx context.Context, q *sqlbuilder.Query) (payload, error) {
	rows, err := o.exec.Query(ctx, q.Entity, q.SQL, q.Params)
	if err != nil {
		return payload{}, err
	}
	if missing := missingColumns(rows, q.ReturnColumns); len(missing) > 0 {
		metrics.ProjectionQuality.WithLabelValues(q.Entity, "missing").Inc()
		return payload{}, &ProjectionError{Entity: q.Entity, Missing: missing}
	}
	metrics.ProjectionQuality.WithLabelValues(q.Entity, "ok").Inc()
	return payload{
		Results: map[string][]executor.Row{q.ResultKey: project(rows, q.ReturnColumns)},
		Meta: payloadMeta{
			ResultKey:   q.ResultKey,
			RowsTotal:   len(rows),
			Fingerprint: executor.Fingerprint(q.SQL),
		},
	}, nil
}

// gate records the outcome and, on failure, marks the result unroutable.
func (o *Orchestrator) gate(res *Result, name string, passed bool, message string) bool {
	outcome := "pass"
	if !passed {
		outcome = "fail"
		res.Status = Status{Reason: ReasonUnroutable, Message: message}
		o.logger.Info(moduleName, "Gate closed", map[string]interface{}{
			"gate":    name,
			"intent":  res.Meta.Intent,
			"entity":  res.Meta.Entity,
			"message": message,
		})
	}
	metrics.Gates.WithLabelValues(name, outcome).Inc()
	g := GateOutcome{Gate: name, Passed: passed}
	if !passed {
		g.Message = message
	}
	res.Meta.Gates = append(res.Meta.Gates, g)
	return passed
}

func (o *Orchestrator) finish(res *Result, start time.Time) *Result {
	res.Meta.ElapsedMs = time.Since(start).Milliseconds()
	if res.Status.Reason != ReasonOK {
		res.Meta.RowsTotal = len(res.Rows())
	}
	o.logger.Info(moduleName, "Question routed", map[string]interface{}{
		"reason":     res.Status.Reason,
		"intent":     res.Meta.Intent,
		"entity":     res.Meta.Entity,
		"rows":       res.Meta.RowsTotal,
		"cache_hit":  res.Meta.Cache.Hit,
		"elapsed_ms": res.Meta.ElapsedMs,
	})
	return res
}

func plannerMeta(p *planner.PlanResult) PlannerMeta {
	return PlannerMeta{
		Intent:   p.Intent,
		Entity:   p.Entity,
		Score:    p.Score,
		Accepted: p.Accepted,
		Bucket:   p.Bucket,
		Reason:   p.Trace.Explain.Scoring.Reason,
	}
}
