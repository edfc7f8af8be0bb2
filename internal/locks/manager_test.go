// internal/locks/manager_test.go
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
	"github.com/facturabot/coordination/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupManager creates a Manager over a fresh in-memory backend with fast
// backoff so contention tests finish quickly.
func setupManager(t *testing.T) *Manager {
	t.Helper()

	logger, _, err := observability.NewTestLogger()
	require.NoError(t, err)

	backend, err := memory.New(context.Background(), memory.NewMemoryConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	return NewManager(backend, logger, WithBackoff(time.Millisecond, 5*time.Millisecond))
}

func TestAcquireRelease(t *testing.T) {
	t.Run("acquire_returns_token", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		token, err := manager.Acquire(ctx, "folio:tenant-1:A", time.Second, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		err = manager.Release(ctx, "folio:tenant-1:A", token)
		assert.NoError(t, err)
	})

	t.Run("second_acquire_fails_busy", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		token, err := manager.Acquire(ctx, "folio:tenant-1:A", time.Minute, 0)
		require.NoError(t, err)

		_, err = manager.Acquire(ctx, "folio:tenant-1:A", time.Minute, 2)
		assert.ErrorIs(t, err, ErrBusy)

		require.NoError(t, manager.Release(ctx, "folio:tenant-1:A", token))
	})

	t.Run("release_with_wrong_token", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		token, err := manager.Acquire(ctx, "quota:tenant-1", time.Minute, 0)
		require.NoError(t, err)

		err = manager.Release(ctx, "quota:tenant-1", "not-the-owner")
		assert.ErrorIs(t, err, ErrNotOwner)

		// The real owner can still release.
		assert.NoError(t, manager.Release(ctx, "quota:tenant-1", token))
	})

	t.Run("release_of_unknown_key", func(t *testing.T) {
		manager := setupManager(t)

		err := manager.Release(context.Background(), "quota:ghost", "some-token")
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("reacquire_after_release", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		first, err := manager.Acquire(ctx, "issuance:tenant-9", time.Minute, 0)
		require.NoError(t, err)
		require.NoError(t, manager.Release(ctx, "issuance:tenant-9", first))

		second, err := manager.Acquire(ctx, "issuance:tenant-9", time.Minute, 0)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("distinct_keys_are_independent", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		_, err := manager.Acquire(ctx, "quota:tenant-1", time.Minute, 0)
		require.NoError(t, err)

		// A different tenant's key is not blocked.
		_, err = manager.Acquire(ctx, "quota:tenant-2", time.Minute, 0)
		assert.NoError(t, err)
	})
}

func TestLeaseExpiry(t *testing.T) {
	t.Run("expired_lease_is_reclaimable", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		_, err := manager.Acquire(ctx, "folio:tenant-1:A", 20*time.Millisecond, 0)
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)

		// The first holder crashed (never released); the key frees itself.
		token, err := manager.Acquire(ctx, "folio:tenant-1:A", time.Minute, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("stale_release_leaves_new_lock_intact", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		stale, err := manager.Acquire(ctx, "folio:tenant-1:A", 20*time.Millisecond, 0)
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)

		current, err := manager.Acquire(ctx, "folio:tenant-1:A", time.Minute, 0)
		require.NoError(t, err)

		// The stale holder's release must not free the reclaimed key.
		err = manager.Release(ctx, "folio:tenant-1:A", stale)
		assert.ErrorIs(t, err, ErrNotOwner)

		_, err = manager.Acquire(ctx, "folio:tenant-1:A", time.Minute, 0)
		assert.ErrorIs(t, err, ErrBusy)

		require.NoError(t, manager.Release(ctx, "folio:tenant-1:A", current))
	})

	t.Run("extend_refreshes_lease", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		token, err := manager.Acquire(ctx, "issuance:tenant-1", 40*time.Millisecond, 0)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, manager.Extend(ctx, "issuance:tenant-1", token, time.Minute))
		time.Sleep(30 * time.Millisecond)

		// Without the extension the original lease would have expired by now.
		_, err = manager.Acquire(ctx, "issuance:tenant-1", time.Minute, 0)
		assert.ErrorIs(t, err, ErrBusy)
	})

	t.Run("extend_after_expiry_fails", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		token, err := manager.Acquire(ctx, "issuance:tenant-1", 10*time.Millisecond, 0)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		err = manager.Extend(ctx, "issuance:tenant-1", token, time.Minute)
		assert.ErrorIs(t, err, ErrNotOwner)
	})
}

func TestWithLock(t *testing.T) {
	t.Run("releases_on_success", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		ran := false
		err := manager.WithLock(ctx, "quota:tenant-1", time.Minute, 0, func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)

		// Lock must be free again.
		_, err = manager.Acquire(ctx, "quota:tenant-1", time.Minute, 0)
		assert.NoError(t, err)
	})

	t.Run("releases_on_body_error", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		bodyErr := errors.New("tenant store unavailable")
		err := manager.WithLock(ctx, "quota:tenant-1", time.Minute, 0, func(ctx context.Context) error {
			return bodyErr
		})
		assert.ErrorIs(t, err, bodyErr)

		_, err = manager.Acquire(ctx, "quota:tenant-1", time.Minute, 0)
		assert.NoError(t, err)
	})

	t.Run("propagates_busy", func(t *testing.T) {
		manager := setupManager(t)
		ctx := context.Background()

		token, err := manager.Acquire(ctx, "issuance:tenant-1", time.Minute, 0)
		require.NoError(t, err)
		defer func() { _ = manager.Release(ctx, "issuance:tenant-1", token) }()

		err = manager.WithLock(ctx, "issuance:tenant-1", time.Minute, 0, func(ctx context.Context) error {
			t.Fatal("body must not run when the lock is held elsewhere")
			return nil
		})
		assert.ErrorIs(t, err, ErrBusy)
	})

	t.Run("releases_after_context_cancellation", func(t *testing.T) {
		manager := setupManager(t)
		ctx, cancel := context.WithCancel(context.Background())

		err := manager.WithLock(ctx, "quota:tenant-1", time.Minute, 0, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)

		// Release ran on an uncanceled context, so the key is free.
		_, err = manager.Acquire(context.Background(), "quota:tenant-1", time.Minute, 0)
		assert.NoError(t, err)
	})
}

func TestMutualExclusion(t *testing.T) {
	for _, workers := range []int{2, 10, 100} {
		t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
			manager := setupManager(t)
			ctx := context.Background()
			key := store.LockKey(store.DomainFolio, "tenant-1", "A")

			var inside int32
			var counter int
			var wg sync.WaitGroup
			errs := make(chan error, workers)

			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := manager.WithLock(ctx, key, time.Second, 5000, func(ctx context.Context) error {
						if !atomic.CompareAndSwapInt32(&inside, 0, 1) {
							return errors.New("second holder entered the critical section")
						}
						counter++
						atomic.StoreInt32(&inside, 0)
						return nil
					})
					errs <- err
				}()
			}

			wg.Wait()
			close(errs)

			for err := range errs {
				require.NoError(t, err)
			}
			assert.Equal(t, workers, counter)
		})
	}
}
