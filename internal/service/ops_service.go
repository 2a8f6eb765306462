package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"araquem/internal/dto"
	"araquem/internal/pkg/logger"
	"araquem/pkg/cache"
	"araquem/pkg/identifiers"
	"araquem/pkg/policy"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
	healthDown     = "down"
	healthDisabled = "disabled"

	healthTimeout = 2 * time.Second
)

// PolicySource is the policy store as seen by operators.
type PolicySource interface {
	Snapshot() (*policy.Snapshot, error)
	Current() *policy.Snapshot
	LastError() error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker is a vector store.
type ReadyChecker interface {
	Name() string
	Ready(ctx context.Context) error
}

// HealthDeps lists what /healthz probes. Nil members report "disabled".
type HealthDeps struct {
	Database      Pinger
	Cache         cache.Backend
	VectorStore   ReadyChecker
	Analytics     Pinger
	LLMConfigured bool
	BuildID       string
}

type IOpsService interface {
	BustCache(ctx context.Context, req *dto.CacheBustRequest) (*dto.CacheBustResponse, error)
	Health(ctx context.Context) dto.HealthResponse
}

type opsService struct {
	policies PolicySource
	cache    *cache.Cache
	deps     HealthDeps
	logger   logger.ILogger
}

func NewOpsService(policies PolicySource, c *cache.Cache, deps HealthDeps, log logger.ILogger) IOpsService {
	return &opsService{policies: policies, cache: c, deps: deps, logger: log}
}

// BustCache recomputes the key an /ask with the same identifiers and
// aggregation would use under the current config version, and deletes it.
func (s *opsService) BustCache(ctx context.Context, req *dto.CacheBustRequest) (*dto.CacheBustResponse, error) {
	if s.cache == nil {
		return nil, fmt.Errorf("cache is not configured")
	}
	snap, err := s.policies.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	if _, ok := snap.Catalog.Entity(req.Entity); !ok {
		return nil, fmt.Errorf("unknown entity %q", req.Entity)
	}

	identity := BustIdentity(req.Identifiers, req.AggParams)
	key, deleted, err := s.cache.Bust(ctx, cache.Request{
		Version:  snap.Version,
		Policy:   snap.Cache,
		Entity:   req.Entity,
		Identity: identity,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("OPS", "Cache bust requested", map[string]interface{}{
		"entity":  req.Entity,
		"key":     key,
		"deleted": deleted,
	})
	return &dto.CacheBustResponse{Key: key, Deleted: deleted}, nil
}

// BustIdentity rebuilds the identity map the orchestrator hashes: the
// normalised identifiers plus the aggregation parameters as reported in
// meta.aggregates.
func BustIdentity(ids map[string]interface{}, agg map[string]interface{}) map[string]interface{} {
	var tickers []string
	switch v := ids["tickers"].(type) {
	case []interface{}:
		for _, t := range v {
			if s, ok := t.(string); ok && s != "" {
				tickers = append(tickers, strings.ToUpper(s))
			}
		}
	case []string:
		for _, t := range v {
			tickers = append(tickers, strings.ToUpper(t))
		}
	}
	if len(tickers) == 0 {
		if t, ok := ids["ticker"].(string); ok && t != "" {
			tickers = []string{strings.ToUpper(t)}
		}
	}

	identity := identifiers.FromList(tickers).AsMap()
	for k, v := range agg {
		identity[k] = v
	}
	return identity
}

func (s *opsService) Health(ctx context.Context) dto.HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	checks := map[string]dto.HealthCheck{}
	res := dto.HealthResponse{Status: healthOK, BuildID: s.deps.BuildID, Checks: checks}

	if snap := s.policies.Current(); snap != nil {
		res.ConfigVersion = snap.Version
	}
	if err := s.policies.LastError(); err != nil {
		checks["policies"] = dto.HealthCheck{Status: healthDegraded, Detail: err.Error()}
	} else {
		checks["policies"] = dto.HealthCheck{Status: healthOK, Detail: res.ConfigVersion}
	}

	checks["database"] = ping(ctx, s.deps.Database)
	checks["analytics"] = ping(ctx, s.deps.Analytics)
	if s.deps.Cache != nil {
		c := ping(ctx, s.deps.Cache)
		c.Detail = strings.TrimSpace(s.deps.Cache.Name() + " " + c.Detail)
		checks["cache"] = c
	} else {
		checks["cache"] = dto.HealthCheck{Status: healthDisabled}
	}
	if s.deps.VectorStore != nil {
		if err := s.deps.VectorStore.Ready(ctx); err != nil {
			checks["vector_store"] = dto.HealthCheck{Status: healthDegraded, Detail: err.Error()}
		} else {
			checks["vector_store"] = dto.HealthCheck{Status: healthOK, Detail: s.deps.VectorStore.Name()}
		}
	} else {
		checks["vector_store"] = dto.HealthCheck{Status: healthDisabled}
	}
	if s.deps.LLMConfigured {
		checks["llm"] = dto.HealthCheck{Status: healthOK}
	} else {
		checks["llm"] = dto.HealthCheck{Status: healthDisabled}
	}

	// only the tabular store and the policies are required to answer
	for _, name := range []string{"database", "policies"} {
		switch checks[name].Status {
		case healthDown:
			res.Status = healthDown
		case healthDegraded:
			if res.Status == healthOK {
				res.Status = healthDegraded
			}
		}
	}
	for name, c := range checks {
		if name != "database" && name != "policies" && (c.Status == healthDown || c.Status == healthDegraded) && res.Status == healthOK {
			res.Status = healthDegraded
		}
	}
	return res
}

func ping(ctx context.Context, p Pinger) dto.HealthCheck {
	if p == nil {
		return dto.HealthCheck{Status: healthDisabled}
	}
	if err := p.Ping(ctx); err != nil {
		return dto.HealthCheck{Status: healthDown, Detail: err.Error()}
	}
	return dto.HealthCheck{Status: healthOK}
}
