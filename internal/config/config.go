// Package config handles configuration loading and watching.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/facturabot/coordination/internal/store"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigLoader handles loading of configurations
type ConfigLoader struct {
	v             *viper.Viper
	mu            sync.RWMutex
	watchers      []func(interface{})
	currentConfig interface{}
}

// ConfigLoadFn defines a function type for loading specific store configurations
type ConfigLoadFn[T store.StoreConfig] func(*viper.Viper) (T, error)

// NewConfigLoader creates a new configuration loader
func NewConfigLoader(configPath string) *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.SetEnvPrefix("Facturabot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{
		v:        v,
		watchers: make([]func(interface{}), 0),
	}
}

// AddWatcher adds a callback function that will be called when configuration changes
func (cl *ConfigLoader) AddWatcher(callback func(interface{})) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.watchers = append(cl.watchers, callback)
}

// GetCurrentConfig returns the current configuration
func (cl *ConfigLoader) GetCurrentConfig() interface{} {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.currentConfig
}

// notifyWatchers calls all registered watchers with the new configuration
func (cl *ConfigLoader) notifyWatchers(newConfig interface{}) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	for _, watcher := range cl.watchers {
		watcher(newConfig)
	}
}

// LoadConfig loads the complete application configuration including store config
func LoadConfig[T store.StoreConfig](configPath string, loadFn ConfigLoadFn[T]) (*ConfigLoader, *GlobalConfig[T], error) {
	cl := NewConfigLoader(configPath)

	setDefaults(cl.v)

	if err := cl.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
		fmt.Println("No config file found, using defaults and environment variables")
	}

	config, err := loadConfiguration(cl.v, loadFn)
	if err != nil {
		return nil, nil, err
	}

	cl.mu.Lock()
	cl.currentConfig = config
	cl.mu.Unlock()

	// Setup configuration watching
	cl.v.WatchConfig()
	cl.v.OnConfigChange(func(e fsnotify.Event) {
		fmt.Printf("Config file changed: %s\n", e.Name)

		newConfig, err := loadConfiguration(cl.v, loadFn)
		if err != nil {
			fmt.Printf("Error reloading configuration: %v\n", err)
			return
		}

		cl.mu.Lock()
		cl.currentConfig = newConfig
		cl.mu.Unlock()

		cl.notifyWatchers(newConfig)
	})

	return cl, config, nil
}

// loadConfiguration loads configuration using the provided loader function
func loadConfiguration[T store.StoreConfig](v *viper.Viper, loadFn ConfigLoadFn[T]) (*GlobalConfig[T], error) {
	storeConfig, err := loadFn(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load store config: %w", err)
	}

	config := &GlobalConfig[T]{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode global config: %w", err)
	}

	config.Store = storeConfig

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates all configuration sections
func validateConfig[T store.StoreConfig](cfg *GlobalConfig[T]) error {
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration error: %w", err)
	}

	if err := cfg.Critical.Validate(); err != nil {
		return err
	}

	if cfg.Batch.TTL <= 0 {
		return fmt.Errorf("batch TTL must be positive")
	}
	if cfg.Locks.InitialBackoff <= 0 || cfg.Locks.MaxBackoff < cfg.Locks.InitialBackoff {
		return fmt.Errorf("lock backoff bounds are invalid")
	}

	// Validate OpenTelemetry config
	if cfg.Observability.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.Observability.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}
	if cfg.Observability.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if cfg.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required")
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// OpenTelemetry defaults
	v.SetDefault("observability.serviceName", "facturabot-coordination")
	v.SetDefault("observability.serviceVersion", "0.1.0")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.otelEndpoint", "localhost:4317")

	// Logger defaults
	v.SetDefault("logger.level", "LOG_LEVELS_INFOLEVEL")

	// Critical operation defaults
	v.SetDefault("critical.folioLease", 5*time.Second)
	v.SetDefault("critical.folioMaxRetries", 3)
	v.SetDefault("critical.quotaLease", 5*time.Second)
	v.SetDefault("critical.quotaMaxRetries", 3)
	v.SetDefault("critical.issuanceLease", 30*time.Second)
	v.SetDefault("critical.issuanceMaxRetries", 0)
	v.SetDefault("critical.allowUnsafeFolioFallback", true)

	// Batch store defaults
	v.SetDefault("batch.ttl", 30*time.Minute)

	// Lock manager defaults
	v.SetDefault("locks.initialBackoff", 50*time.Millisecond)
	v.SetDefault("locks.maxBackoff", 1*time.Second)
}
