package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type NarratorEvent struct {
	Id          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RequestId   string         `gorm:"type:varchar(64);not null;index"`
	Entity      string         `gorm:"type:varchar(64);index"`
	ComputeMode string         `gorm:"type:varchar(16)"`
	Strategy    string         `gorm:"type:varchar(32);not null;index"`
	Enabled     bool           `gorm:"not null;default:false"`
	Shadow      bool           `gorm:"not null;default:false"`
	Model       string         `gorm:"type:varchar(128)"`
	LatencyMs   int64          `gorm:"not null;default:0"`
	Error       string         `gorm:"type:text"`
	Meta        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index"`
}

func (NarratorEvent) TableName() string {
	return "narrator_events"
}
