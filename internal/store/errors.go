// internal/store/errors.go
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is thrown when the key is not found in the store during a Get operation.
	ErrKeyNotFound = errors.New("key not found in store")
)

// UnavailableError is thrown when the shared key-value store itself cannot
// be reached. This is the only condition treated as infrastructure-fatal:
// it must propagate to callers rather than silently degrade.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err marks the backing store as unreachable.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// InvalidConfigurationError is thrown when the type of the configuration is not supported by a backend.
type InvalidConfigurationError struct {
	Backend string
	Config  any
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("%s: invalid configuration type: %T", e.Backend, e.Config)
}

// UnknownConstructorError is thrown when a requested backend is not registered.
type UnknownConstructorError struct {
	Backend string
}

func (e UnknownConstructorError) Error() string {
	return fmt.Sprintf("unknown constructor %q (forgotten import?)", e.Backend)
}
