package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/auth"
	redisclient "github.com/capsule-ai/capsule-backend/pkg/redis"
	redislib "github.com/redis/go-redis/v9"
)

// Revoker keeps a Redis denylist so stateless tokens can be invalidated
// before they expire. Single tokens are listed by jti until their exp.
// A per-user cutoff rejects tokens issued before it, to the nanosecond.
type Revoker struct {
	store redisclient.RevocationStore
	ttl   time.Duration
	now   func() time.Time
}

// RevocationChecker exposes the read-only surface needed by middleware.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, claims *auth.AccessTokenClaims) (bool, error)
}

// NewRevoker constructs a revoker. tokenTTL bounds how long user cutoffs are kept.
func NewRevoker(store redisclient.RevocationStore, tokenTTL time.Duration) (*Revoker, error) {
	if store == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if tokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &Revoker{store: store, ttl: tokenTTL, now: time.Now}, nil
}

// Revoke denylists one token id until expiresAt.
func (r *Revoker) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("token id is required")
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.store.Set(ctx, r.store.RevokedTokenKey(jti), "1", ttl)
}

// RevokeUser rejects every token for userID issued before at.
func (r *Revoker) RevokeUser(ctx context.Context, userID string, at time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return r.store.Set(ctx, r.store.RevokedUserKey(userID), strconv.FormatInt(at.UnixNano(), 10), r.ttl)
}

// IsRevoked reports whether claims were revoked individually or by a user cutoff.
func (r *Revoker) IsRevoked(ctx context.Context, claims *auth.AccessTokenClaims) (bool, error) {
	if claims == nil {
		return true, nil
	}

	if _, err := r.store.Get(ctx, r.store.RevokedTokenKey(claims.ID)); err == nil {
		return true, nil
	} else if !errors.Is(err, redislib.Nil) {
		return false, err
	}

	raw, err := r.store.Get(ctx, r.store.RevokedUserKey(claims.UserID.String()))
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return false, nil
		}
		return false, err
	}
	cutoff, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parsing revocation cutoff: %w", err)
	}
	issued := claims.IssuedTime()
	if issued.IsZero() {
		return true, nil
	}
	return issued.Before(time.Unix(0, cutoff)), nil
}
