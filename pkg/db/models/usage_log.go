package models

import (
	"time"

	dbtypes "github.com/capsule-ai/capsule-backend/pkg/db/types"
	"github.com/google/uuid"
)

// UsageLog is an append-only record of a metered action.
type UsageLog struct {
	ID          int64            `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      uuid.UUID        `gorm:"column:user_id;type:uuid;not null;index:idx_usage_logs_user_ts,priority:1"`
	Action      string           `gorm:"column:action;type:text;not null"`
	CreditsUsed int              `gorm:"column:credits_used;not null"`
	Metadata    dbtypes.JSONText `gorm:"column:metadata;type:jsonb"`
	Timestamp   time.Time        `gorm:"column:timestamp;not null;index:idx_usage_logs_user_ts,priority:2"`
}

func (UsageLog) TableName() string { return "usage_logs" }
