package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists cooldown state.
type Store interface {
	Load(ctx context.Context) (CooldownState, error)

	// Save stores state; ttl is how long the entry stays relevant.
	Save(ctx context.Context, state CooldownState, ttl time.Duration) error
}

// MemoryStore keeps state in process. It is the default and scopes the
// cooldown to a single client.
type MemoryStore struct {
	mu    sync.Mutex
	state CooldownState
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored state.
func (m *MemoryStore) Load(ctx context.Context) (CooldownState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

// Save replaces the stored state. ttl is ignored.
func (m *MemoryStore) Save(ctx context.Context, state CooldownState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}

// RedisStore shares cooldown state between processes hitting the same API
// host with the same token.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a store for scope, usually the API host.
func NewRedisStore(redisClient *redis.Client, scope string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
		key:   RedisKeyCooldown(scope),
	}
}

// Load fetches the state from Redis. A missing key is a clear state.
func (r *RedisStore) Load(ctx context.Context) (CooldownState, error) {
	var state CooldownState

	data, err := r.redis.Get(ctx, r.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return state, nil
		}
		return state, fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse cooldown state: %w", err)
	}
	return state, nil
}

// Save writes the state with ttl so that expired cooldowns disappear.
func (r *RedisStore) Save(ctx context.Context, state CooldownState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cooldown state: %w", err)
	}

	if ttl < time.Second {
		ttl = time.Second
	}
	if err := r.redis.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
