package service

import (
	"context"
	"fmt"
	"strings"

	"araquem/internal/dto"
	"araquem/internal/pkg/logger"
	"araquem/pkg/metrics"
	"araquem/pkg/orchestrator"
	"araquem/pkg/planner"
	"araquem/pkg/policy"
	"araquem/pkg/rag"
)

type IQualityService interface {
	Push(ctx context.Context, req *dto.QualityPushRequest) (*dto.QualityPushResponse, error)
}

type qualityService struct {
	policies planner.SnapshotSource
	planner  orchestrator.Planner
	logger   logger.ILogger
}

func NewQualityService(policies planner.SnapshotSource, p orchestrator.Planner, log logger.ILogger) IQualityService {
	return &qualityService{policies: policies, planner: p, logger: log}
}

// Push checks every sample against the current snapshot. A failing sample
// is reported, not rejected.
func (s *qualityService) Push(ctx context.Context, req *dto.QualityPushRequest) (*dto.QualityPushResponse, error) {
	snap, err := s.policies.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}

	res := &dto.QualityPushResponse{
		Counts:   map[string]dto.QualityCount{},
		Failures: []dto.QualityFailure{},
	}
	for i, sample := range req.Samples {
		var reason string
		switch sample.Type {
		case "routing":
			reason = s.checkRouting(ctx, snap, sample)
		case "projection":
			reason = checkProjection(snap, sample)
		case "rag":
			reason = checkRAG(snap, sample)
		default:
			reason = "unknown_type"
		}

		c := res.Counts[sample.Type]
		outcome := "pass"
		if reason == "" {
			c.Pass++
		} else {
			c.Fail++
			outcome = "fail"
			res.Failures = append(res.Failures, dto.QualityFailure{Index: i, Type: sample.Type, Reason: reason})
		}
		res.Counts[sample.Type] = c
		metrics.QualitySamples.WithLabelValues(sample.Type, outcome).Inc()
		res.Accepted++
	}

	s.logger.Info("QUALITY", "Quality samples checked", map[string]interface{}{
		"accepted": res.Accepted,
		"failures": len(res.Failures),
	})
	return res, nil
}

func (s *qualityService) checkRouting(ctx context.Context, snap *policy.Snapshot, sample dto.QualitySample) string {
	plan := s.planner.ExplainWith(ctx, snap, sample.Question, "")
	if sample.ExpectedIntent != "" && plan.Intent != sample.ExpectedIntent {
		return fmt.Sprintf("intent: want %s, got %s", sample.ExpectedIntent, plan.Intent)
	}
	if sample.ExpectedEntity != "" && plan.Entity != sample.ExpectedEntity {
		return fmt.Sprintf("entity: want %s, got %s", sample.ExpectedEntity, plan.Entity)
	}
	return ""
}

func checkProjection(snap *policy.Snapshot, sample dto.QualitySample) string {
	contract, ok := snap.Catalog.Entity(sample.Entity)
	if !ok {
		return "unknown_entity"
	}
	have := make(map[string]bool, len(sample.Columns))
	for _, c := range sample.Columns {
		have[c] = true
	}
	var missing []string
	for _, c := range contract.ReturnColumns {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return "missing:" + strings.Join(missing, ",")
	}
	return ""
}

func checkRAG(snap *policy.Snapshot, sample dto.QualitySample) string {
	if sample.ExpectedEnabled == nil {
		return "expected_enabled is required"
	}
	d := rag.Decide(snap.RAG, sample.Intent, sample.Entity)
	if d.Enabled != *sample.ExpectedEnabled {
		return fmt.Sprintf("enabled: want %t, got %t (%s)", *sample.ExpectedEnabled, d.Enabled, d.Reason)
	}
	return ""
}
