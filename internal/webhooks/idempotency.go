package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/redis"
)

var errEmptyEventID = errors.New("event id is required")

// IdempotencyGuard records which provider deliveries were already applied.
// Marks are claimed before processing and released when processing fails,
// so a provider retry of a failed delivery runs again.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// NewIdempotencyGuard keys marks under scope. A zero ttl keeps marks forever.
func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	scope = strings.TrimSpace(scope)
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

func (g *IdempotencyGuard) key(eventID string) string {
	return g.store.IdempotencyKey(g.scope, eventID)
}

// CheckAndMark claims eventID. It returns true when an earlier delivery
// already holds the claim.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	claimedAt := strconv.FormatInt(nowUTC().Unix(), 10)
	created, err := g.store.SetNX(ctx, g.key(eventID), claimedAt, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s event %s: %w", g.scope, eventID, err)
	}
	return !created, nil
}

// Release drops the claim on eventID.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errEmptyEventID
	}
	if err := g.store.Del(ctx, g.key(eventID)); err != nil {
		return fmt.Errorf("release %s event %s: %w", g.scope, eventID, err)
	}
	return nil
}
