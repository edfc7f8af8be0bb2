// internal/store/redis/redis_store.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facturabot/coordination/internal/backends"
	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
	"github.com/redis/go-redis/v9"
)

// Error definitions
var (
	ErrConfigOptionMissing = errors.New("Redis requires a config option")
)

// BackendName is the registered name of the Redis backend
const BackendName = "redis"

// redisClient defines the interface for Redis operations
// This allows for easier mocking in tests
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Factory function for creating Redis clients
// Can be replaced during tests for mocking
var newRedisClientFn = func(addr string, password string, db int) redisClient {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Register the Redis backend with the backends package
func init() {
	backends.Register(BackendName, newBackend)
}

// newBackend creates a new Redis backend instance from configuration
func newBackend(ctx context.Context, options backends.Config, logger *observability.SLogger) (store.Backend, error) {
	cfg, ok := options.(*RedisConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Backend: BackendName, Config: options}
	}
	return New(ctx, cfg, logger)
}

// Backend implements the store.Backend interface for Redis
type Backend struct {
	client    redisClient
	l         *observability.SLogger
	keyPrefix string
	config    *RedisConfig
}

// GetConfig returns the current backend configuration
func (b *Backend) GetConfig() store.StoreConfig {
	return b.config
}

// New creates a new Redis backend with the provided configuration
func New(ctx context.Context, config *RedisConfig, logger *observability.SLogger) (*Backend, error) {
	if config == nil {
		return nil, ErrConfigOptionMissing
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	client := newRedisClientFn(addr, config.Password, config.DB)

	// Test connection
	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Errorf("Error connecting to Redis: %v", err)
		return nil, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	return &Backend{
		client:    client,
		l:         logger,
		keyPrefix: config.KeyPrefix,
		config:    config,
	}, nil
}

// storageKey namespaces a logical key under the configured prefix
func (b *Backend) storageKey(key string) string {
	return b.keyPrefix + ":" + key
}

// TryAcquire attempts to create the lock record if absent or expired.
// Redis expiry removes stale records, so SET NX alone decides ownership.
func (b *Backend) TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	k := b.storageKey(key)

	success, err := b.client.SetNX(ctx, k, token, lease).Result()
	if err != nil {
		b.l.Errorf("Error acquiring lock: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	if success {
		return true, nil
	}

	// If acquisition failed, check whether this token already owns the key
	// and refresh the lease if so.
	return b.refreshLockIfOwned(ctx, k, token, lease)
}

// refreshLockIfOwned checks if the token owns the lock and refreshes it if so
func (b *Backend) refreshLockIfOwned(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	existingOwner, err := b.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		b.l.Errorf("Error checking lock ownership: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	if existingOwner != token {
		return false, nil
	}

	if err := b.client.PExpire(ctx, key, lease).Err(); err != nil {
		b.l.Errorf("Error refreshing lock lease: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	return true, nil
}

// Release deletes the lock only if it is still owned by the given token
func (b *Backend) Release(ctx context.Context, key, token string) (bool, error) {
	k := b.storageKey(key)

	existingOwner, err := b.client.Get(ctx, k).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		b.l.Errorf("Error checking lock ownership: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	if existingOwner != token {
		return false, nil
	}

	if _, err := b.client.Del(ctx, k).Result(); err != nil {
		b.l.Errorf("Error releasing lock: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	return true, nil
}

// Extend refreshes a lock's lease if it is still owned by the given token
func (b *Backend) Extend(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	k := b.storageKey(key)

	existingOwner, err := b.client.Get(ctx, k).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		b.l.Errorf("Error checking lock for extend: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	if existingOwner != token {
		return false, nil
	}

	success, err := b.client.PExpire(ctx, k, lease).Result()
	if err != nil {
		b.l.Errorf("Error refreshing lock lease: %v", err)
		return false, &store.UnavailableError{Backend: BackendName, Err: err}
	}

	return success, nil
}

// Put stores a batch record with the given TTL
func (b *Backend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k := b.storageKey(key)

	if err := b.client.Set(ctx, k, value, ttl).Err(); err != nil {
		b.l.Errorf("Error storing batch record: %v", err)
		return &store.UnavailableError{Backend: BackendName, Err: err}
	}
	return nil
}

// Get retrieves a batch record
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	k := b.storageKey(key)

	value, err := b.client.Get(ctx, k).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrKeyNotFound
		}
		b.l.Errorf("Error reading batch record: %v", err)
		return nil, &store.UnavailableError{Backend: BackendName, Err: err}
	}
	return value, nil
}

// Delete removes a batch record
func (b *Backend) Delete(ctx context.Context, key string) error {
	k := b.storageKey(key)

	if _, err := b.client.Del(ctx, k).Result(); err != nil {
		b.l.Errorf("Error deleting batch record: %v", err)
		return &store.UnavailableError{Backend: BackendName, Err: err}
	}
	return nil
}

// Close closes the Redis client connection
func (b *Backend) Close() {
	if err := b.client.Close(); err != nil {
		b.l.Errorf("Error closing Redis connection: %v", err)
	}
}
