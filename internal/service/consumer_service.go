package service

import (
	"context"
	"encoding/json"

	"araquem/internal/dto"
	"araquem/internal/model"
	"araquem/internal/pkg/logger"
	"araquem/internal/repository/contract"
	"araquem/pkg/metrics"

	"github.com/ThreeDotsLabs/watermill/message"
	"gorm.io/datatypes"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService persists analytics events. Without a repository the
// events are drained and dropped.
type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	repo       contract.AnalyticsRepository
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	repo contract.AnalyticsRepository,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		repo:       repo,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.AnalyticsMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("ANALYTICS", "Failed to unmarshal message", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack() // invalid payloads would never succeed
		return
	}

	if cs.repo == nil {
		msg.Ack()
		return
	}

	var err error
	switch {
	case payload.Kind == dto.AnalyticsKindExplain && payload.Explain != nil:
		err = cs.repo.CreateExplainEvent(ctx, explainModel(payload.Explain))
	case payload.Kind == dto.AnalyticsKindNarrator && payload.Narrator != nil:
		err = cs.repo.CreateNarratorEvent(ctx, narratorModel(payload.Narrator))
	default:
		cs.logger.Warn("ANALYTICS", "Unknown analytics message", map[string]interface{}{
			"message_id": msg.UUID,
			"kind":       payload.Kind,
		})
	}

	// analytics are best-effort; a failed insert is logged and dropped
	if err != nil {
		metrics.Errors.WithLabelValues(metrics.KindAnalytics).Inc()
		cs.logger.Error("ANALYTICS", "Failed to persist analytics event", map[string]interface{}{
			"message_id": msg.UUID,
			"kind":       payload.Kind,
			"error":      err.Error(),
		})
	}
	msg.Ack()
}

func explainModel(ev *dto.ExplainEventMessage) *model.ExplainEvent {
	return &model.ExplainEvent{
		RequestId:      ev.RequestID,
		ClientId:       ev.ClientID,
		ConversationId: ev.ConversationID,
		Question:       ev.Question,
		Intent:         ev.Intent,
		Entity:         ev.Entity,
		Reason:         ev.Reason,
		Score:          ev.Score,
		RowsTotal:      ev.RowsTotal,
		CacheHit:       ev.CacheHit,
		ElapsedMs:      ev.ElapsedMs,
		ConfigVersion:  ev.ConfigVersion,
		PlanHash:       ev.PlanHash,
		Trace:          jsonOrNull(ev.Trace),
		Gates:          jsonOrNull(ev.Gates),
	}
}

func narratorModel(ev *dto.NarratorEventMessage) *model.NarratorEvent {
	return &model.NarratorEvent{
		RequestId:   ev.RequestID,
		Entity:      ev.Entity,
		ComputeMode: ev.ComputeMode,
		Strategy:    ev.Strategy,
		Enabled:     ev.Enabled,
		Shadow:      ev.Shadow,
		Model:       ev.Model,
		LatencyMs:   ev.LatencyMs,
		Error:       ev.Error,
		Meta:        jsonOrNull(ev.Meta),
	}
}

func jsonOrNull(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(raw)
}
