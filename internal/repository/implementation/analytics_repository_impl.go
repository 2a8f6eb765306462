package implementation

import (
	"context"

	"araquem/internal/model"
	"araquem/internal/repository/contract"

	"gorm.io/gorm"
)

type AnalyticsRepositoryImpl struct {
	db *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) contract.AnalyticsRepository {
	return &AnalyticsRepositoryImpl{db: db}
}

func (r *AnalyticsRepositoryImpl) CreateExplainEvent(ctx context.Context, event *model.ExplainEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *AnalyticsRepositoryImpl) CreateNarratorEvent(ctx context.Context, event *model.NarratorEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// Migrate creates the event tables when they are missing.
func (r *AnalyticsRepositoryImpl) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&model.ExplainEvent{}, &model.NarratorEvent{})
}
