package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Subject carries the identity fields embedded in a token.
type Subject struct {
	UserID uuid.UUID
	Email  string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	// IssuedAtNano keeps the sub-second issue time that iat drops.
	IssuedAtNano int64 `json:"iat_ns,omitempty"`
	jwt.RegisteredClaims
}

// IssuedTime returns the most precise issue time the token carries, or the
// zero time when it has none.
func (c *AccessTokenClaims) IssuedTime() time.Time {
	if c.IssuedAtNano > 0 {
		return time.Unix(0, c.IssuedAtNano).UTC()
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}
