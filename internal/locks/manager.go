// internal/locks/manager.go
package locks

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrBusy is returned when lock contention outlasted the configured
	// retries. Recoverable: the caller decides whether to fail, queue,
	// or degrade.
	ErrBusy = errors.New("lock busy: retries exhausted")

	// ErrNotOwner is returned when a release or extend finds the key
	// held by a different token. Expected race outcome after lease
	// expiry; log and continue, never retry blindly.
	ErrNotOwner = errors.New("lock not owned")

	// errContended signals a single failed attempt inside the retry loop.
	errContended = errors.New("lock contended")
)

const (
	defaultInitialBackoff = 50 * time.Millisecond
	defaultMaxBackoff     = 1 * time.Second
)

// Manager provides distributed mutual exclusion over a shared LockStore.
// Each acquisition is identified by a fresh random owner token; the lease
// bounds the damage of a crashed holder.
type Manager struct {
	store          store.LockStore
	logger         *observability.SLogger
	metrics        observability.MetricsClient
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithBackoff overrides the contention backoff bounds
func WithBackoff(initial, max time.Duration) Option {
	return func(m *Manager) {
		m.initialBackoff = initial
		m.maxBackoff = max
	}
}

// WithMetrics attaches a metrics client
func WithMetrics(metrics observability.MetricsClient) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a lock manager over the given store
func NewManager(s store.LockStore, logger *observability.SLogger, opts ...Option) *Manager {
	m := &Manager{
		store:          s,
		logger:         logger,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Acquire attempts to take the lock for key, retrying contention up to
// maxRetries times with exponential backoff capped at the configured
// ceiling. Returns the owner token on success, ErrBusy when contention
// outlasted the retries, or a store error (propagated unchanged).
func (m *Manager) Acquire(ctx context.Context, key string, lease time.Duration, maxRetries int) (string, error) {
	token := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.initialBackoff
	bo.MaxInterval = m.maxBackoff

	operation := func() error {
		acquired, err := m.store.TryAcquire(ctx, key, token, lease)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !acquired {
			return errContended
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx))
	if err != nil {
		if errors.Is(err, errContended) {
			m.increment(ctx, "lock_acquire_total", "result", "busy", "key", key)
			return "", ErrBusy
		}
		m.increment(ctx, "lock_acquire_total", "result", "error", "key", key)
		return "", err
	}

	m.increment(ctx, "lock_acquire_total", "result", "acquired", "key", key)
	return token, nil
}

// Release gives the lock back if this token still owns it. ErrNotOwner
// means the lease expired and another holder reclaimed the key; their
// lock is left intact.
func (m *Manager) Release(ctx context.Context, key, token string) error {
	released, err := m.store.Release(ctx, key, token)
	if err != nil {
		return err
	}
	if !released {
		m.increment(ctx, "lock_release_total", "result", "not_owner", "key", key)
		return ErrNotOwner
	}
	return nil
}

// Extend refreshes the lease of a lock this token still owns
func (m *Manager) Extend(ctx context.Context, key, token string, lease time.Duration) error {
	extended, err := m.store.Extend(ctx, key, token, lease)
	if err != nil {
		return err
	}
	if !extended {
		return ErrNotOwner
	}
	return nil
}

// WithLock acquires the lock, runs body, and releases on every exit path.
// The release still checks token ownership, since body may have run past
// its lease; an expired-and-reclaimed lease is logged and tolerated.
func (m *Manager) WithLock(ctx context.Context, key string, lease time.Duration, maxRetries int, body func(ctx context.Context) error) error {
	start := time.Now()
	token, err := m.Acquire(ctx, key, lease, maxRetries)
	if err != nil {
		return err
	}

	defer func() {
		// Release must succeed even when ctx was canceled mid-body.
		releaseCtx := context.WithoutCancel(ctx)
		if rerr := m.Release(releaseCtx, key, token); rerr != nil {
			if errors.Is(rerr, ErrNotOwner) {
				m.logger.Debugf("lock %q: lease expired before release, key reclaimed", key)
				return
			}
			m.logger.Errorf("lock %q: release failed: %v", key, rerr)
		}
	}()

	err = body(ctx)

	if m.metrics != nil {
		if merr := m.metrics.RecordLatency(ctx, time.Since(start), "operation", "with_lock", "key", key); merr != nil {
			m.logger.Debugf("lock %q: latency metric: %v", key, merr)
		}
	}

	return err
}

func (m *Manager) increment(ctx context.Context, name string, attributes ...string) {
	if m.metrics != nil {
		m.metrics.Increment(ctx, name, 1, attributes...)
	}
}
