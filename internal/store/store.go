// internal/store/store.go
package store

import (
	"context"
	"time"
)

// LockStore provides the primitive operations for distributed lock records.
// A lock record holds an opaque owner token and expires after its lease.
type LockStore interface {
	// TryAcquire atomically creates the lock record if it is absent or
	// expired. Returns true when this token now owns the key.
	TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error)

	// Release deletes the record only if the stored token matches.
	// Returns false when the caller no longer owns the key; a newer
	// owner's record is left intact.
	Release(ctx context.Context, key, token string) (bool, error)

	// Extend refreshes the lease of a record still owned by token.
	// Returns false when ownership was lost.
	Extend(ctx context.Context, key, token string, lease time.Duration) (bool, error)
}

// BatchStore provides TTL-bound storage for intermediate workflow state.
// Records are owned by the (owner, batch) pair, not by any worker process.
type BatchStore interface {
	// Put stores value under key with the given TTL, overwriting any
	// previous record.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves the value for key. Returns ErrKeyNotFound when the
	// record is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the record. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Backend groups the lock and batch stores served by a single shared
// key-value backend.
type Backend interface {
	LockStore
	BatchStore

	// Close releases resources held by the backend
	Close()

	// GetConfig returns the current backend configuration
	GetConfig() StoreConfig
}
