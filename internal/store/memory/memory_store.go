// internal/store/memory/memory_store.go
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/facturabot/coordination/internal/backends"
	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
	gocache "github.com/patrickmn/go-cache"
)

// Error definitions
var (
	ErrConfigOptionMissing = errors.New("memory store requires a config option")
)

// BackendName is the registered name of the in-memory backend
const BackendName = "memory"

func init() {
	backends.Register(BackendName, newBackend)
}

// newBackend creates a new in-memory backend instance from configuration
func newBackend(ctx context.Context, options backends.Config, logger *observability.SLogger) (store.Backend, error) {
	cfg, ok := options.(*MemoryConfig)
	if !ok && options != nil {
		return nil, &store.InvalidConfigurationError{Backend: BackendName, Config: options}
	}
	return New(ctx, cfg, logger)
}

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// Backend implements store.Backend against process-local memory.
//
// Single-process only: lock records live in this process and are invisible
// to other workers, so it must never be selected for horizontally scaled
// deployments. It exists for local development and tests.
type Backend struct {
	mu      sync.Mutex
	locks   map[string]lockEntry
	batches *gocache.Cache
	l       *observability.SLogger
	config  *MemoryConfig
}

// New creates a new in-memory backend with the provided configuration
func New(_ context.Context, config *MemoryConfig, logger *observability.SLogger) (*Backend, error) {
	if config == nil {
		return nil, ErrConfigOptionMissing
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Warnf("Using in-memory backend %q: single-process only, not for horizontally scaled deployments", BackendName)

	return &Backend{
		locks:   make(map[string]lockEntry),
		batches: gocache.New(gocache.NoExpiration, config.CleanupInterval),
		l:       logger,
		config:  config,
	}, nil
}

// GetConfig returns the current backend configuration
func (b *Backend) GetConfig() store.StoreConfig {
	return b.config
}

// TryAcquire attempts to create the lock record if absent or expired
func (b *Backend) TryAcquire(_ context.Context, key, token string, lease time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	entry, exists := b.locks[key]
	if exists && now.Before(entry.expiresAt) && entry.token != token {
		return false, nil
	}

	b.locks[key] = lockEntry{token: token, expiresAt: now.Add(lease)}
	return true, nil
}

// Release deletes the record only if the stored token matches
func (b *Backend) Release(_ context.Context, key, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, exists := b.locks[key]
	if !exists || entry.token != token {
		return false, nil
	}

	delete(b.locks, key)
	return true, nil
}

// Extend refreshes the lease of a record still owned by token
func (b *Backend) Extend(_ context.Context, key, token string, lease time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	entry, exists := b.locks[key]
	if !exists || entry.token != token || now.After(entry.expiresAt) {
		return false, nil
	}

	entry.expiresAt = now.Add(lease)
	b.locks[key] = entry
	return true, nil
}

// Put stores a batch record with the given TTL
func (b *Backend) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.batches.Set(key, value, ttl)
	return nil
}

// Get retrieves a batch record, honoring per-item expiry
func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	value, found := b.batches.Get(key)
	if !found {
		return nil, store.ErrKeyNotFound
	}
	return value.([]byte), nil
}

// Delete removes a batch record
func (b *Backend) Delete(_ context.Context, key string) error {
	b.batches.Delete(key)
	return nil
}

// Close releases resources held by the backend
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locks = make(map[string]lockEntry)
	b.batches.Flush()
}
