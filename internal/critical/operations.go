// internal/critical/operations.go
package critical

import (
	"context"
	"errors"
	"time"

	"github.com/facturabot/coordination/internal/locks"
	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
)

// Config holds the lease durations and retry counts for each critical
// operation. Defaults are stable across releases; see DefaultConfig.
type Config struct {
	FolioLease         time.Duration `yaml:"folioLease"`
	FolioMaxRetries    int           `yaml:"folioMaxRetries"`
	QuotaLease         time.Duration `yaml:"quotaLease"`
	QuotaMaxRetries    int           `yaml:"quotaMaxRetries"`
	IssuanceLease      time.Duration `yaml:"issuanceLease"`
	IssuanceMaxRetries int           `yaml:"issuanceMaxRetries"`

	// AllowUnsafeFolioFallback enables the folio-allocation fallback:
	// on lock exhaustion, advance the counter without the lock and log a
	// warning. Acceptable only because the contention window is small
	// and a duplicate folio is detectable downstream. This is the single
	// allowed unsafe fallback; no other operation may degrade this way.
	AllowUnsafeFolioFallback bool `yaml:"allowUnsafeFolioFallback"`
}

// DefaultConfig returns the documented operation defaults: short leases
// for counter operations, a longer lease for the composite issuance
// (the external issuer call may be slow), and a single issuance attempt.
func DefaultConfig() Config {
	return Config{
		FolioLease:               5 * time.Second,
		FolioMaxRetries:          3,
		QuotaLease:               5 * time.Second,
		QuotaMaxRetries:          3,
		IssuanceLease:            30 * time.Second,
		IssuanceMaxRetries:       0,
		AllowUnsafeFolioFallback: true,
	}
}

// Validate ensures the operation configuration is usable
func (c Config) Validate() error {
	if c.FolioLease <= 0 || c.QuotaLease <= 0 || c.IssuanceLease <= 0 {
		return errors.New("critical config: leases must be positive")
	}
	if c.FolioMaxRetries < 0 || c.QuotaMaxRetries < 0 || c.IssuanceMaxRetries < 0 {
		return errors.New("critical config: retry counts must be non-negative")
	}
	return nil
}

// Operations wraps the tenant-mutating domain operations so each runs
// inside a named lock, keeping call sites free of locking concerns.
// Lock keys are tenant-scoped, so operations for different tenants never
// block each other.
type Operations struct {
	locks    *locks.Manager
	tenants  TenantStore
	invoices InvoiceCreator
	logger   *observability.SLogger
	metrics  observability.MetricsClient
	cfg      Config
}

// Option configures Operations
type Option func(*Operations)

// WithMetrics attaches a metrics client
func WithMetrics(metrics observability.MetricsClient) Option {
	return func(o *Operations) {
		o.metrics = metrics
	}
}

// NewOperations creates the critical operations facade
func NewOperations(lockManager *locks.Manager, tenants TenantStore, invoices InvoiceCreator, logger *observability.SLogger, cfg Config, opts ...Option) (*Operations, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Operations{
		locks:    lockManager,
		tenants:  tenants,
		invoices: invoices,
		logger:   logger,
		cfg:      cfg,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// NextFolio allocates the next invoice sequence number for (tenant,
// series) under the folio lock. The returned values are strictly
// increasing with no repeats, even under concurrent callers.
//
// On lock exhaustion with AllowUnsafeFolioFallback enabled, the counter
// is advanced without the lock and a warning is logged. That fallback is
// confined to this operation.
func (o *Operations) NextFolio(ctx context.Context, tenantID, series string) (int64, error) {
	key := store.LockKey(store.DomainFolio, tenantID, series)

	var folio int64
	err := o.locks.WithLock(ctx, key, o.cfg.FolioLease, o.cfg.FolioMaxRetries, func(ctx context.Context) error {
		var advErr error
		folio, advErr = o.advanceFolio(ctx, tenantID, series)
		return advErr
	})

	if errors.Is(err, locks.ErrBusy) {
		if !o.cfg.AllowUnsafeFolioFallback {
			return 0, err
		}
		o.logger.Warnf("folio allocation for tenant %s series %s proceeding without lock after contention; duplicates are detectable downstream", tenantID, series)
		o.increment(ctx, "folio_unsafe_fallback_total", "tenant", tenantID)
		return o.advanceFolio(ctx, tenantID, series)
	}
	if err != nil {
		return 0, err
	}

	return folio, nil
}

// advanceFolio performs the read-increment-persist cycle. Callers hold
// the folio lock, except for the documented fallback path.
func (o *Operations) advanceFolio(ctx context.Context, tenantID, series string) (int64, error) {
	current, err := o.tenants.ReadCounter(ctx, tenantID, series)
	if err != nil {
		return 0, err
	}

	next := current + 1
	if err := o.tenants.WriteCounter(ctx, tenantID, series, next); err != nil {
		return 0, err
	}

	return next, nil
}

// CanIssueInvoice reports whether the tenant has quota left in the
// active billing period. Runs under the quota lock; lock exhaustion
// propagates as locks.ErrBusy.
func (o *Operations) CanIssueInvoice(ctx context.Context, tenantID string) (Decision, error) {
	key := store.LockKey(store.DomainQuota, tenantID)

	var decision Decision
	err := o.locks.WithLock(ctx, key, o.cfg.QuotaLease, o.cfg.QuotaMaxRetries, func(ctx context.Context) error {
		var checkErr error
		decision, checkErr = o.checkQuota(ctx, tenantID)
		return checkErr
	})
	if err != nil {
		return Decision{}, err
	}

	return decision, nil
}

// IncrementInvoiceCount adds one issued invoice to the tenant's period
// usage under the quota lock. Unlike folio allocation this operation has
// no unsafe fallback: skipping the lock here risks quota corruption that
// is not self-healing, so lock exhaustion propagates to the caller.
func (o *Operations) IncrementInvoiceCount(ctx context.Context, tenantID string) error {
	key := store.LockKey(store.DomainQuota, tenantID)

	return o.locks.WithLock(ctx, key, o.cfg.QuotaLease, o.cfg.QuotaMaxRetries, func(ctx context.Context) error {
		return o.incrementQuota(ctx, tenantID)
	})
}

// IssueInvoiceSafely runs the composite issuance under the tenant's
// issuance lock in a single attempt: a concurrent issuance for the same
// tenant fails fast with locks.ErrBusy rather than queueing silently.
// Quota check, invoice creation (which allocates the folio through
// NextFolio), and quota increment all happen inside one lock acquisition
// so no concurrent request can interleave between check and increment.
func (o *Operations) IssueInvoiceSafely(ctx context.Context, tenantID string, req InvoiceRequest) (*Invoice, error) {
	key := store.LockKey(store.DomainIssuance, tenantID)

	var invoice *Invoice
	err := o.locks.WithLock(ctx, key, o.cfg.IssuanceLease, o.cfg.IssuanceMaxRetries, func(ctx context.Context) error {
		decision, err := o.checkQuota(ctx, tenantID)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			quota, qerr := o.tenants.ReadQuota(ctx, tenantID)
			if qerr != nil {
				quota = Quota{}
			}
			o.increment(ctx, "quota_denied_total", "tenant", tenantID)
			return &QuotaExceededError{TenantID: tenantID, Used: quota.Used, Limit: quota.Limit}
		}

		created, err := o.invoices.CreateInvoice(ctx, req)
		if err != nil {
			return err
		}

		if err := o.incrementQuota(ctx, tenantID); err != nil {
			return err
		}

		invoice = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.increment(ctx, "invoice_issued_total", "tenant", tenantID)
	return invoice, nil
}

// checkQuota compares used against limit for the active period. Callers
// hold either the quota lock or the issuance lock.
func (o *Operations) checkQuota(ctx context.Context, tenantID string) (Decision, error) {
	quota, err := o.tenants.ReadQuota(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}

	if quota.Used >= quota.Limit {
		return Decision{Allowed: false, Reason: "invoice quota exhausted for the current billing period"}, nil
	}

	return Decision{Allowed: true}, nil
}

// incrementQuota performs the read-increment-persist cycle on the quota
// counter. Callers hold either the quota lock or the issuance lock.
func (o *Operations) incrementQuota(ctx context.Context, tenantID string) error {
	quota, err := o.tenants.ReadQuota(ctx, tenantID)
	if err != nil {
		return err
	}

	quota.Used++
	return o.tenants.WriteQuota(ctx, tenantID, quota)
}

func (o *Operations) increment(ctx context.Context, name string, attributes ...string) {
	if o.metrics != nil {
		o.metrics.Increment(ctx, name, 1, attributes...)
	}
}
