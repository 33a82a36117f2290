package auth

import (
	"time"

	"github.com/capsule-ai/capsule-backend/internal/credits"
	"github.com/capsule-ai/capsule-backend/internal/users"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuthResult is returned by registration, login and password change.
type AuthResult struct {
	Token     string         `json:"access_token"`
	TokenType string         `json:"token_type"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *users.UserDTO `json:"user"`
}

// ResetDecision tells the caller whether a reset email should go out. HTTP
// handlers answer uniformly regardless.
type ResetDecision struct {
	Send   bool      `json:"-"`
	UserID uuid.UUID `json:"-"`
}

// ConsumeInput is a metering request from the generation pipeline.
type ConsumeInput struct {
	UserID   uuid.UUID
	Amount   int
	Action   string
	Metadata map[string]any
}

// GrantInput is a credit grant, manual or provider-backed.
type GrantInput struct {
	UserID        uuid.UUID
	Credits       int
	Method        enums.PaymentMethod
	TransactionID string
}

// GrantResult reports the payment row and the resulting balance.
type GrantResult struct {
	PaymentID int64           `json:"payment_id"`
	Applied   bool            `json:"applied"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   int             `json:"credits_balance"`
}

// Stats is the account summary shown on the dashboard.
type Stats struct {
	CreditsBalance   int                            `json:"credits_balance"`
	SubscriptionTier enums.SubscriptionTier         `json:"subscription_tier"`
	TotalCreditsUsed int                            `json:"total_credits_used"`
	UsageByAction    map[string]credits.ActionUsage `json:"usage_by_action"`
	PeriodDays       int                            `json:"period_days"`
	MemberSince      *time.Time                     `json:"member_since"`
	LastLogin        *time.Time                     `json:"last_login"`
}
