// internal/batch/batch.go
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrNotFound is returned when a batch record is absent or expired.
// A normal outcome: the caller presents a "session expired" message,
// never a crash.
var ErrNotFound = errors.New("batch not found")

// Payload is the JSON-serializable state of a multi-step workflow:
// precomputed candidate invoices, column mappings, totals.
type Payload map[string]any

// Store keeps multi-step conversation state in the shared backend so
// whichever worker handles the user's next message can recover the
// context left by the worker that handled the previous one. Records are
// TTL-bound; staleness is accepted, arbitration is not its job.
type Store struct {
	backend store.BatchStore
	logger  *observability.SLogger
	metrics observability.MetricsClient
	ttl     time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithTTL overrides the default record TTL
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithMetrics attaches a metrics client
func WithMetrics(metrics observability.MetricsClient) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// DefaultTTL bounds how long an abandoned conversation survives.
const DefaultTTL = 30 * time.Minute

// NewStore creates a batch state store over the given backend
func NewStore(backend store.BatchStore, logger *observability.SLogger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  logger,
		ttl:     DefaultTTL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GenerateBatchID returns a collision-resistant identifier, independent of
// any counter, so two workers creating batches concurrently never collide.
func (s *Store) GenerateBatchID() string {
	return uuid.NewString()
}

// Save stores the payload for (ownerID, batchID). A non-positive ttl uses
// the store default.
func (s *Store) Save(ctx context.Context, ownerID, batchID string, payload Payload, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode batch payload: %w", err)
	}

	if err := s.backend.Put(ctx, store.BatchKey(ownerID, batchID), data, ttl); err != nil {
		return err
	}

	s.increment(ctx, "batch_saved_total")
	return nil
}

// Get retrieves the payload for (ownerID, batchID). Returns ErrNotFound
// when the record expired or never existed.
func (s *Store) Get(ctx context.Context, ownerID, batchID string) (Payload, error) {
	data, err := s.backend.Get(ctx, store.BatchKey(ownerID, batchID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			s.increment(ctx, "batch_miss_total")
			return nil, ErrNotFound
		}
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode batch payload: %w", err)
	}

	s.increment(ctx, "batch_hit_total")
	return payload, nil
}

// Update merges partial into the existing record and refreshes the TTL,
// so an active conversation does not expire mid-flow. Returns ErrNotFound
// when there is nothing to update.
func (s *Store) Update(ctx context.Context, ownerID, batchID string, partial Payload) error {
	current, err := s.Get(ctx, ownerID, batchID)
	if err != nil {
		return err
	}

	merged := lo.Assign(current, partial)
	return s.Save(ctx, ownerID, batchID, merged, s.ttl)
}

// Delete removes the record. Deleting an absent batch is not an error.
func (s *Store) Delete(ctx context.Context, ownerID, batchID string) error {
	return s.backend.Delete(ctx, store.BatchKey(ownerID, batchID))
}

func (s *Store) increment(ctx context.Context, name string) {
	if s.metrics != nil {
		s.metrics.Increment(ctx, name, 1)
	}
}
