package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ExplainEvent struct {
	Id             uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RequestId      string         `gorm:"type:varchar(64);not null;index"`
	ClientId       string         `gorm:"type:varchar(128);index"`
	ConversationId string         `gorm:"type:varchar(128)"`
	Question       string         `gorm:"type:text;not null"`
	Intent         string         `gorm:"type:varchar(64);index"`
	Entity         string         `gorm:"type:varchar(64);index"`
	Reason         string         `gorm:"type:varchar(32);not null"`
	Score          float64        `gorm:"not null;default:0"`
	RowsTotal      int            `gorm:"not null;default:0"`
	CacheHit       bool           `gorm:"not null;default:false"`
	ElapsedMs      int64          `gorm:"not null;default:0"`
	ConfigVersion  string         `gorm:"type:varchar(32)"`
	PlanHash       string         `gorm:"type:varchar(40)"`
	Trace          datatypes.JSON `gorm:"type:jsonb"`
	Gates          datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index"`
}

func (ExplainEvent) TableName() string {
	return "explain_events"
}
