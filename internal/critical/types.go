// internal/critical/types.go
package critical

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrQuotaExceeded marks a quota denial. Business rule violation:
// surfaced to the end user, not retried.
var ErrQuotaExceeded = errors.New("invoice quota exceeded")

// QuotaExceededError carries the counters behind a quota denial
type QuotaExceededError struct {
	TenantID string
	Used     int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %s: invoice quota exceeded (%d/%d)", e.TenantID, e.Used, e.Limit)
}

// Is matches against the ErrQuotaExceeded sentinel
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Quota is the per-tenant invoice allowance for the active billing period
type Quota struct {
	Used   int64  `json:"used"`
	Limit  int64  `json:"limit"`
	Period string `json:"period"`
}

// Decision is the outcome of a quota check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// LineItem is one derived invoice line
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// InvoiceRequest is the payload handed to the domain invoice service
type InvoiceRequest struct {
	TenantID   string            `json:"tenantId"`
	Series     string            `json:"series"`
	CustomerID string            `json:"customerId"`
	Items      []LineItem        `json:"items"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Invoice is the issued fiscal document as reported by the domain service
type Invoice struct {
	ID             string          `json:"id"`
	SequenceNumber int64           `json:"sequenceNumber"`
	Series         string          `json:"series"`
	Total          decimal.Decimal `json:"total"`
}

// TenantStore is the persistence collaborator for folio and quota
// counters. The facade is the only caller permitted to invoke the write
// variants, and only while holding the corresponding lock.
type TenantStore interface {
	ReadCounter(ctx context.Context, tenantID, series string) (int64, error)
	WriteCounter(ctx context.Context, tenantID, series string, value int64) error
	ReadQuota(ctx context.Context, tenantID string) (Quota, error)
	WriteQuota(ctx context.Context, tenantID string, quota Quota) error
}

// InvoiceCreator is the domain collaborator that builds and submits the
// fiscal document. It must call back into NextFolio for its sequence
// number rather than generating its own.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}
