// internal/store/keys.go
package store

import (
	"fmt"
	"strings"
)

// Key domains for lock records. Lock keys follow the stable contract
// <domain>:<tenantId>[:<subkey>].
const (
	DomainFolio    = "folio"
	DomainQuota    = "quota"
	DomainIssuance = "issuance"
)

// PrefixBatch namespaces batch records away from lock keys so the two can
// never collide in a shared store.
const PrefixBatch = "batch:v1"

// LockKey builds a lock key from a domain, a tenant and optional subkeys.
func LockKey(domain, tenantID string, subkeys ...string) string {
	parts := make([]string, 0, len(subkeys)+2)
	parts = append(parts, domain, tenantID)
	parts = append(parts, subkeys...)
	return strings.Join(parts, ":")
}

// BatchKey builds the storage key for a (owner, batch) pair.
func BatchKey(ownerID, batchID string) string {
	return fmt.Sprintf("%s:%s:%s", PrefixBatch, ownerID, batchID)
}
