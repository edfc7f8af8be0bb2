// internal/store/errors_test.go
package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnavailableError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &UnavailableError{Backend: "redis", Err: cause}

	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestIsUnavailable(t *testing.T) {
	base := &UnavailableError{Backend: "dynamodb", Err: errors.New("throttled")}

	assert.True(t, IsUnavailable(base))
	// Detection survives wrapping
	assert.True(t, IsUnavailable(fmt.Errorf("acquire: %w", base)))

	assert.False(t, IsUnavailable(nil))
	assert.False(t, IsUnavailable(ErrKeyNotFound))
}

func TestInvalidConfigurationError(t *testing.T) {
	err := &InvalidConfigurationError{Backend: "redis", Config: 42}
	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "int")
}

func TestUnknownConstructorError(t *testing.T) {
	err := UnknownConstructorError{Backend: "etcd"}
	assert.Contains(t, err.Error(), `"etcd"`)
}
