package service

import (
	"context"
	"fmt"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/cache"
	"araquem/pkg/metrics"
	"araquem/pkg/policy"
)

type QuotaDecision struct {
	Allowed  bool
	TypeUser string
	Used     int64
	// Limit is 0 when the user type is unlimited.
	Limit int
}

type IQuotaService interface {
	Check(ctx context.Context, clientID, typeUser string, p *policy.QuotaPolicy) QuotaDecision
}

type quotaService struct {
	backend cache.Backend
	logger  logger.ILogger
	now     func() time.Time
}

func NewQuotaService(backend cache.Backend, log logger.ILogger) IQuotaService {
	return &quotaService{backend: backend, logger: log, now: time.Now}
}

// Check counts the request against the client's monthly bucket. Anonymous
// requests and backend failures are let through.
func (s *quotaService) Check(ctx context.Context, clientID, typeUser string, p *policy.QuotaPolicy) QuotaDecision {
	if typeUser == "" && p != nil {
		typeUser = p.DefaultType
	}
	limit := p.LimitFor(typeUser)
	d := QuotaDecision{Allowed: true, TypeUser: typeUser, Limit: limit}
	if limit == 0 || clientID == "" || s.backend == nil {
		return d
	}

	now := s.now().UTC()
	key := QuotaKey(clientID, now)
	used, err := s.backend.Incr(ctx, key, untilNextMonth(now))
	if err != nil {
		metrics.Errors.WithLabelValues(metrics.KindQuota).Inc()
		s.logger.Warn("QUOTA", "Quota counter unavailable, allowing request", map[string]interface{}{
			"client_id": clientID,
			"error":     err.Error(),
		})
		return d
	}
	d.Used = used
	if used > int64(limit) {
		d.Allowed = false
		metrics.QuotaBlocks.WithLabelValues(typeUser).Inc()
		s.logger.Info("QUOTA", "Request blocked by quota", map[string]interface{}{
			"client_id": clientID,
			"type_user": typeUser,
			"used":      used,
			"limit":     limit,
		})
	}
	return d
}

// QuotaKey is araquem:quota:{yyyymm}:{client}.
func QuotaKey(clientID string, at time.Time) string {
	return fmt.Sprintf("araquem:quota:%s:%s", at.Format("200601"), clientID)
}

// untilNextMonth keeps the counter one day past the month boundary.
func untilNextMonth(now time.Time) time.Duration {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return first.Sub(now) + 24*time.Hour
}
