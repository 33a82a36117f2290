package models

import (
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment records one credit purchase or grant. The (payment_method,
// transaction_id) pair is unique so a provider event can only land once.
type Payment struct {
	ID               int64               `gorm:"column:id;primaryKey;autoIncrement"`
	UserID           uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Amount           decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string              `gorm:"column:currency;type:text;not null"`
	CreditsPurchased int                 `gorm:"column:credits_purchased;not null"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;type:text;not null;uniqueIndex:ux_payments_method_txn,priority:1"`
	TransactionID    *string             `gorm:"column:transaction_id;type:text;uniqueIndex:ux_payments_method_txn,priority:2"`
	Status           enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }
