package models

import (
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/google/uuid"
)

// User is an account holder. CreditsBalance is only mutated through the
// credit ledger, never by a plain Save.
type User struct {
	ID               uuid.UUID              `gorm:"column:user_id;type:uuid;primaryKey"`
	Email            string                 `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash     string                 `gorm:"column:password_hash;not null"`
	CreditsBalance   int                    `gorm:"column:credits_balance;not null"`
	SubscriptionTier enums.SubscriptionTier `gorm:"column:subscription_tier;type:text;not null"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	LastLogin        *time.Time             `gorm:"column:last_login"`
	IsActive         bool                   `gorm:"column:is_active;not null"`
}

func (User) TableName() string { return "users" }
