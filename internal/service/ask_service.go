package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"araquem/internal/dto"
	"araquem/internal/pkg/logger"
	"araquem/pkg/executor"
	"araquem/pkg/orchestrator"
	"araquem/pkg/planner"
	"araquem/pkg/presenter"

	"github.com/google/uuid"
)

const (
	ReasonBlockedByQuota = "blocked_by_quota"

	MessagePolicyError   = "policy_error"
	MessageInternalError = "internal_error"

	answerQuota           = "Você atingiu o limite mensal de perguntas do seu plano. Tente novamente no próximo mês."
	answerUnroutable      = "Não consegui entender a pergunta. Tente citar o fundo (por exemplo HGLG11) e o tipo de informação que procura."
	answerMissingTicker   = "Para qual fundo? Informe o ticker, por exemplo HGLG11."
	answerMissingColumns  = "Os dados dessa consulta vieram incompletos. Tente novamente em instantes."
	answerInternalFailure = "Não foi possível responder agora. Tente novamente em instantes."
)

// Router is the orchestrator.
type Router interface {
	RouteQuestion(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Presenter renders the answer from routed rows.
type Presenter interface {
	Present(ctx context.Context, in presenter.Input) presenter.Result
}

type IAskService interface {
	// Ask returns a response for every outcome. On a non-nil error the
	// response carries status.reason "error" and the caller answers 5xx.
	Ask(ctx context.Context, req *dto.AskRequest, explain bool) (*dto.AskResponse, error)
}

type askService struct {
	policies  planner.SnapshotSource
	router    Router
	presenter Presenter
	quota     IQuotaService
	analytics IAnalyticsService
	logger    logger.ILogger
}

func NewAskService(
	policies planner.SnapshotSource,
	router Router,
	p Presenter,
	quota IQuotaService,
	analytics IAnalyticsService,
	log logger.ILogger,
) IAskService {
	return &askService{
		policies:  policies,
		router:    router,
		presenter: p,
		quota:     quota,
		analytics: analytics,
		logger:    log,
	}
}

func (s *askService) Ask(ctx context.Context, req *dto.AskRequest, explain bool) (*dto.AskResponse, error) {
	start := time.Now()
	requestID := uuid.NewString()

	snap, err := s.policies.Snapshot()
	if err != nil {
		s.logger.Error("ASK", "Policies unavailable", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		return failure(requestID, MessagePolicyError, err), err
	}

	var quotaStatus *dto.QuotaStatus
	if s.quota != nil {
		d := s.quota.Check(ctx, req.ClientID, req.TypeUser, snap.Quota)
		if d.Limit > 0 {
			quotaStatus = &dto.QuotaStatus{TypeUser: d.TypeUser, Used: d.Used, Limit: d.Limit}
		}
		if !d.Allowed {
			return &dto.AskResponse{
				Status:  orchestrator.Status{Reason: ReasonBlockedByQuota, Message: "quota_exceeded"},
				Results: map[string][]executor.Row{},
				Meta: dto.AskMeta{
					Meta:      orchestrator.Meta{ConfigVersion: snap.Version, Aggregates: map[string]interface{}{}, RequestedMetrics: []string{}},
					RequestID: requestID,
					Quota:     quotaStatus,
				},
				Answer: answerQuota,
			}, nil
		}
	}

	res, err := s.router.RouteQuestion(ctx, orchestrator.Request{
		Question:       req.Question,
		ClientID:       req.ClientID,
		ConversationID: req.ConversationID,
		BucketHint:     req.BucketHint,
		ComputeMode:    req.ComputeMode,
	})
	if err != nil {
		s.logger.Error("ASK", "Routing failed", map[string]interface{}{
			"request_id": requestID,
			"error":      err.Error(),
		})
		return failure(requestID, MessageInternalError, err), err
	}
	routed := time.Now()

	resp := &dto.AskResponse{
		Status:  res.Status,
		Results: res.Results,
		Meta: dto.AskMeta{
			Meta:      res.Meta,
			RequestID: requestID,
			Quota:     quotaStatus,
		},
	}

	if res.Status.Reason == orchestrator.ReasonOK {
		out := s.presenter.Present(ctx, presenter.Input{
			RequestID:        requestID,
			Question:         req.Question,
			Intent:           res.Meta.Intent,
			Entity:           res.Meta.Entity,
			Score:            res.Meta.Planner.Score,
			ResultKey:        res.Meta.ResultKey,
			Columns:          res.Columns,
			Results:          res.Results,
			Aggregates:       res.Meta.Aggregates,
			Identifiers:      res.Identifiers,
			RequestedMetrics: res.Meta.RequestedMetrics,
			FocusMetric:      res.Meta.FocusMetric,
			RequestedMode:    req.ComputeMode,
			Contract:         res.Contract,
			Snapshot:         res.Snapshot,
			RAG:              res.Meta.RAG,
		})
		resp.Answer = out.Answer
		resp.Meta.TemplateKey = out.TemplateKey
		resp.Meta.ComputeMode = out.ComputeMode
		resp.Meta.RAG = out.RAG
		resp.Meta.Narrator = &dto.NarratorMeta{ComputeMode: out.ComputeMode, Output: out.Narrator}
	} else {
		resp.Answer = unroutableAnswer(res.Status.Message)
	}
	if strings.TrimSpace(resp.Answer) == "" {
		resp.Answer = answerUnroutable
	}

	if explain {
		done := time.Now()
		if res.Plan != nil {
			resp.Meta.Explain = &res.Plan.Trace
		}
		resp.Meta.ExplainAnalytics = &dto.ExplainAnalytics{
			RouteMs:   routed.Sub(start).Milliseconds(),
			PresentMs: done.Sub(routed).Milliseconds(),
			TotalMs:   done.Sub(start).Milliseconds(),
			Gates:     res.Meta.Gates,
			CacheHit:  res.Meta.Cache.Hit,
		}
		resp.Meta.ExplainAnalytics.Published = s.publish(ctx, req, res, resp)
	}
	return resp, nil
}

// publish sends the explain and narrator events. It reports whether every
// event was handed to the bus.
func (s *askService) publish(ctx context.Context, req *dto.AskRequest, res *orchestrator.Result, resp *dto.AskResponse) bool {
	if s.analytics == nil {
		return false
	}
	ev := &dto.ExplainEventMessage{
		RequestID:      resp.Meta.RequestID,
		ClientID:       req.ClientID,
		ConversationID: req.ConversationID,
		Question:       req.Question,
		Intent:         res.Meta.Intent,
		Entity:         res.Meta.Entity,
		Reason:         res.Status.Reason,
		Score:          res.Meta.Planner.Score,
		RowsTotal:      res.Meta.RowsTotal,
		CacheHit:       res.Meta.Cache.Hit,
		ElapsedMs:      resp.Meta.ExplainAnalytics.TotalMs,
		ConfigVersion:  res.Meta.ConfigVersion,
		PlanHash:       res.Meta.PlanHash,
		Trace:          rawJSON(resp.Meta.Explain),
		Gates:          rawJSON(res.Meta.Gates),
	}
	ok := true
	if err := s.analytics.PublishExplain(ctx, ev); err != nil {
		ok = false
		s.logger.Warn("ASK", "Failed to publish explain event", map[string]interface{}{
			"request_id": resp.Meta.RequestID,
			"error":      err.Error(),
		})
	}

	if n := resp.Meta.Narrator; n != nil && n.Output != nil {
		nev := &dto.NarratorEventMessage{
			RequestID:   resp.Meta.RequestID,
			Entity:      res.Meta.Entity,
			ComputeMode: n.ComputeMode,
			Strategy:    n.Output.Strategy,
			Enabled:     n.Output.Enabled,
			Shadow:      n.Output.Shadow,
			Model:       n.Output.Meta.Model,
			LatencyMs:   n.Output.LatencyMs,
			Error:       n.Output.Error,
			Meta:        rawJSON(n.Output.Meta),
		}
		if err := s.analytics.PublishNarrator(ctx, nev); err != nil {
			ok = false
			s.logger.Warn("ASK", "Failed to publish narrator event", map[string]interface{}{
				"request_id": resp.Meta.RequestID,
				"error":      err.Error(),
			})
		}
	}
	return ok
}

func unroutableAnswer(message string) string {
	switch {
	case strings.HasPrefix(message, "context_gate:"):
		return answerMissingTicker
	case strings.HasPrefix(message, "projection_gate:"):
		return answerMissingColumns
	default:
		return answerUnroutable
	}
}

// failure never exposes err to the client; only the fingerprint of a
// failed query is kept for correlation with the logs.
func failure(requestID, message string, err error) *dto.AskResponse {
	meta := orchestrator.Meta{Aggregates: map[string]interface{}{}, RequestedMetrics: []string{}}
	var qe *executor.QueryError
	if errors.As(err, &qe) {
		meta.Entity = qe.Entity
		meta.SQLFingerprint = qe.Fingerprint
	}
	return &dto.AskResponse{
		Status:  orchestrator.Status{Reason: orchestrator.ReasonError, Message: message},
		Results: map[string][]executor.Row{},
		Meta: dto.AskMeta{
			Meta:      meta,
			RequestID: requestID,
		},
		Answer: answerInternalFailure,
	}
}

func rawJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
