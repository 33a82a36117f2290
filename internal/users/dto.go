package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
)

// UserDTO is the transport shape that omits sensitive credentials.
type UserDTO struct {
	ID               uuid.UUID              `json:"user_id"`
	Email            string                 `json:"email"`
	CreditsBalance   int                    `json:"credits_balance"`
	SubscriptionTier enums.SubscriptionTier `json:"subscription_tier"`
	CreatedAt        time.Time              `json:"created_at"`
	LastLogin        *time.Time             `json:"last_login,omitempty"`
	IsActive         bool                   `json:"is_active"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	Email            string
	PasswordHash     string
	StartingCredits  int
	SubscriptionTier enums.SubscriptionTier
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}

	return &UserDTO{
		ID:               u.ID,
		Email:            u.Email,
		CreditsBalance:   u.CreditsBalance,
		SubscriptionTier: u.SubscriptionTier,
		CreatedAt:        u.CreatedAt,
		LastLogin:        u.LastLogin,
		IsActive:         u.IsActive,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	tier := c.SubscriptionTier
	if tier == "" {
		tier = enums.SubscriptionTierFree
	}

	return &models.User{
		ID:               uuid.New(),
		Email:            c.Email,
		PasswordHash:     c.PasswordHash,
		CreditsBalance:   c.StartingCredits,
		SubscriptionTier: tier,
		IsActive:         true,
	}
}
