package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyStore is the slice of Redis the event guard needs.
type KeyStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

type redisKeyStore struct{ c *redis.Client }

// RedisKeyStore adapts a go-redis client to KeyStore.
func RedisKeyStore(c *redis.Client) KeyStore { return redisKeyStore{c: c} }

func (s redisKeyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return s.c.SetNX(ctx, key, value, ttl).Result()
}

func (s redisKeyStore) Del(ctx context.Context, key string) error {
	return s.c.Del(ctx, key).Err()
}

// EventGuard remembers processed webhook event ids so Stripe retries are
// acknowledged without being handled twice.
type EventGuard struct {
	store KeyStore
	ttl   time.Duration
	scope string
}

func NewEventGuard(store KeyStore, ttl time.Duration, scope string) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("key store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &EventGuard{store: store, ttl: ttl, scope: scope}, nil
}

func (g *EventGuard) key(eventID string) string {
	return "idem:" + g.scope + ":" + eventID
}

// CheckAndMark reports whether eventID was already seen and marks it
// otherwise.
func (g *EventGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.key(eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete forgets eventID so a failed delivery can be retried.
func (g *EventGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}
