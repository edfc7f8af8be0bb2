// internal/config/types.go
package config

import (
	"time"

	"github.com/facturabot/coordination/internal/critical"
	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
)

// GlobalConfig represents the application configuration with generic store config
type GlobalConfig[T store.StoreConfig] struct {
	Store         T                          `yaml:"-"`
	Logger        observability.LoggerConfig `yaml:"logger"`
	Observability observability.Config       `yaml:"observability"`
	Backend       BackendConfig              `yaml:"backend"`
	Critical      critical.Config            `yaml:"critical"`
	Batch         BatchConfig                `yaml:"batch"`
	Locks         LocksConfig                `yaml:"locks"`
}

// BackendConfig represents the backend configuration section
type BackendConfig struct {
	Type string `yaml:"type"`
}

// BatchConfig configures the batch state store
type BatchConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LocksConfig configures the lock manager's contention backoff
type LocksConfig struct {
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

// RootConfig is the minimal shape read to detect the backend type
type RootConfig struct {
	Backend BackendConfig `yaml:"backend"`
}
