// internal/retry/retry.go
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation. The zero value is not usable; start
// from DefaultPolicy.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultPolicy suits a single outbound API call: a few quick retries,
// bounded well under typical request deadlines.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  15 * time.Second,
		MaxRetries:      3,
	}
}

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy, retrying transient failures with
// exponential backoff. Intended to be composed around outbound calls
// outside of any lock scope, so retries never extend a critical section.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = policy.MaxElapsedTime

	var result T
	err := backoff.Retry(func() error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, backoff.WithContext(backoff.WithMaxRetries(bo, policy.MaxRetries), ctx))

	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
