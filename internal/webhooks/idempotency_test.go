package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("capsule:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func TestIdempotencyGuard(t *testing.T) {
	store := newInMemoryStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "cryptomus-webhook")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "inv-1:paid")
	if err != nil || seen {
		t.Fatalf("first delivery should be new, got seen=%v err=%v", seen, err)
	}
	seen, err = guard.CheckAndMark(ctx, "inv-1:paid")
	if err != nil || !seen {
		t.Fatalf("second delivery should be seen, got seen=%v err=%v", seen, err)
	}

	if err := guard.Release(ctx, "inv-1:paid"); err != nil {
		t.Fatalf("release: %v", err)
	}
	seen, _ = guard.CheckAndMark(ctx, "inv-1:paid")
	if seen {
		t.Fatal("released event should be claimable again")
	}

	if _, err := guard.CheckAndMark(ctx, ""); err == nil {
		t.Fatal("expected empty event id error")
	}
	store.err = errors.New("redis down")
	if _, err := guard.CheckAndMark(ctx, "inv-2:paid"); err == nil {
		t.Fatal("expected store error to surface")
	}
}

func TestNewIdempotencyGuardValidation(t *testing.T) {
	if _, err := NewIdempotencyGuard(nil, time.Hour, "scope"); err == nil {
		t.Fatal("expected nil store error")
	}
	if _, err := NewIdempotencyGuard(newInMemoryStore(), -time.Second, "scope"); err == nil {
		t.Fatal("expected negative ttl error")
	}
	if _, err := NewIdempotencyGuard(newInMemoryStore(), time.Hour, ""); err == nil {
		t.Fatal("expected empty scope error")
	}
}
