package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/payments-core/pkg/redis"
)

// Manager tracks processed message keys per consumer using Redis SETNX with a TTL.
// Keys follow the `payments:idempotency:evt:processed:<consumer>:<key>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds an idempotency guard that marks keys as processed for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// CheckAndMarkProcessed returns true if key has already been processed and
// otherwise marks it as processed with the configured TTL.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error) {
	redisKey, err := m.processedKey(consumer, key)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, redisKey, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Delete forgets key so a redelivery is processed again.
func (m *Manager) Delete(ctx context.Context, consumer, key string) error {
	redisKey, err := m.processedKey(consumer, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, redisKey)
}

func (m *Manager) processedKey(consumer, key string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("message key is required")
	}
	scope := fmt.Sprintf("evt:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, key), nil
}
