package service

import (
	"context"
	"encoding/json"
	"fmt"

	"araquem/internal/dto"
	"araquem/internal/pkg/logger"
	"araquem/pkg/metrics"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// IAnalyticsService publishes explain and narrator events. Publishing is
// best-effort; the caller only logs a failure.
type IAnalyticsService interface {
	PublishExplain(ctx context.Context, ev *dto.ExplainEventMessage) error
	PublishNarrator(ctx context.Context, ev *dto.NarratorEventMessage) error
}

type analyticsService struct {
	publisher message.Publisher
	topicName string
	logger    logger.ILogger
}

func NewAnalyticsService(publisher message.Publisher, topicName string, log logger.ILogger) IAnalyticsService {
	return &analyticsService{
		publisher: publisher,
		topicName: topicName,
		logger:    log,
	}
}

func (s *analyticsService) PublishExplain(ctx context.Context, ev *dto.ExplainEventMessage) error {
	return s.publish(ctx, dto.AnalyticsMessage{Kind: dto.AnalyticsKindExplain, Explain: ev})
}

func (s *analyticsService) PublishNarrator(ctx context.Context, ev *dto.NarratorEventMessage) error {
	return s.publish(ctx, dto.AnalyticsMessage{Kind: dto.AnalyticsKindNarrator, Narrator: ev})
}

func (s *analyticsService) publish(ctx context.Context, m dto.AnalyticsMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal analytics message: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := s.publisher.Publish(s.topicName, msg); err != nil {
		metrics.Errors.WithLabelValues(metrics.KindAnalytics).Inc()
		return fmt.Errorf("publish %s event: %w", m.Kind, err)
	}
	return nil
}
