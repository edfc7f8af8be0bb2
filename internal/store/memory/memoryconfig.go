// internal/store/memory/memoryconfig.go
package memory

import (
	"errors"
	"time"
)

// MemoryConfig holds configuration for the in-memory backend
type MemoryConfig struct {
	TTL             int32         `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
}

// NewMemoryConfig creates a new in-memory configuration with default values
func NewMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		TTL:             15,
		CleanupInterval: 1 * time.Minute,
	}
}

// Validate ensures the in-memory configuration is valid
func (c *MemoryConfig) Validate() error {
	if c.TTL <= 0 {
		return errors.New("store validation failed: TTL must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("store validation failed: cleanup interval must be positive")
	}
	return nil
}

// GetTableName returns a placeholder table name since memory doesn't use tables
func (c *MemoryConfig) GetTableName() string {
	return "memory-store"
}

// GetTTL returns the configured TTL
func (c *MemoryConfig) GetTTL() int32 {
	return c.TTL
}

// GetEndpoints returns an empty endpoint list; the backend is in-process
func (c *MemoryConfig) GetEndpoints() []string {
	return []string{}
}
