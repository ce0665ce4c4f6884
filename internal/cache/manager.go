// Package cache wraps a Redis client behind a small typed API used by the
// retrieval cache. Callers distinguish a miss from a failure via IsCacheMiss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/config"
)

// ErrCacheMiss indicates the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss reports whether err is a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Manager provides Redis-backed caching.
type Manager struct {
	client *redis.Client
	logger *zap.Logger
}

// NewManager creates a cache manager from config. It does not verify
// connectivity; call Ping for that.
func NewManager(cfg config.RedisConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	return &Manager{
		client: client,
		logger: logger.With(zap.String("component", "cache")),
	}
}

// NewManagerWithClient wraps an existing client. Used by tests with miniredis.
func NewManagerWithClient(client *redis.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client: client,
		logger: logger.With(zap.String("component", "cache")),
	}
}

// Get fetches a raw value. Returns ErrCacheMiss when the key is absent.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	val, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a raw value with a TTL. ttl <= 0 means no expiry.
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := m.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// GetJSON fetches a value and unmarshals it into dest.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it with a TTL.
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Delete removes keys.
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Ping verifies connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (m *Manager) Close() error {
	return m.client.Close()
}
