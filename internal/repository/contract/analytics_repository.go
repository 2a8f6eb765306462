package contract

import (
	"context"

	"araquem/internal/model"
)

type AnalyticsRepository interface {
	CreateExplainEvent(ctx context.Context, event *model.ExplainEvent) error
	CreateNarratorEvent(ctx context.Context, event *model.NarratorEvent) error
	Migrate(ctx context.Context) error
}
