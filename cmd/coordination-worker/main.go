package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/facturabot/coordination/internal/backends"
	"github.com/facturabot/coordination/internal/batch"
	"github.com/facturabot/coordination/internal/config"
	"github.com/facturabot/coordination/internal/locks"
	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/retry"
	"github.com/facturabot/coordination/internal/store"
	"github.com/facturabot/coordination/internal/store/dynamodb"
	"github.com/facturabot/coordination/internal/store/memory"
	"github.com/facturabot/coordination/internal/store/redis"
)

func main() {
	configPath := flag.String("config", "/etc/facturabot/config.yaml", "Path to configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		fmt.Printf("Received signal: %v\n", sig)
		cancel()
	}()

	backendType, err := config.DetectBackendType(*configPath)
	if err != nil {
		log.Fatalf("Failed to detect backend type: %v", err)
	}

	// The loader searches a directory; accept a file path on the flag too.
	configDir := *configPath
	if fi, statErr := os.Stat(configDir); statErr == nil && !fi.IsDir() {
		configDir = filepath.Dir(configDir)
	}

	switch backendType {
	case redis.BackendName:
		err = run(ctx, configDir, backendType, config.RedisConfigLoader)
	case dynamodb.BackendName:
		err = run(ctx, configDir, backendType, config.DynamoConfigLoader)
	case memory.BackendName:
		err = run(ctx, configDir, backendType, config.MemoryConfigLoader)
	default:
		err = fmt.Errorf("unsupported backend type: %s", backendType)
	}

	if err != nil {
		log.Fatalf("Worker error: %v", err)
	}
}

// run loads configuration for the chosen backend, wires the coordination
// core, and blocks until the context is canceled.
func run[T store.StoreConfig](ctx context.Context, configPath, backendType string, loadFn config.ConfigLoadFn[T]) error {
	loader, cfg, err := config.LoadConfig(configPath, loadFn)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Logger.Level.GetZapLevel())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	otelShutdown, err := observability.InitProvider(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer otelShutdown()

	metrics, err := observability.NewMetricsClient(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("failed to create metrics client: %w", err)
	}

	backend, err := backends.NewBackend(ctx, backendType, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to create %s backend: %w", backendType, err)
	}
	defer backend.Close()

	lockManager := locks.NewManager(backend, logger,
		locks.WithBackoff(cfg.Locks.InitialBackoff, cfg.Locks.MaxBackoff),
		locks.WithMetrics(metrics),
	)
	batchStore := batch.NewStore(backend, logger,
		batch.WithTTL(cfg.Batch.TTL),
		batch.WithMetrics(metrics),
	)

	if err := preflight(ctx, lockManager, batchStore); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	loader.AddWatcher(func(newConfig interface{}) {
		logger.Info("Configuration updated")
	})

	logger.Infof("Coordination worker ready (backend: %s)", backendType)

	<-ctx.Done()
	logger.Info("Shutting down coordination worker")
	return nil
}

// preflight exercises a lock and a batch record round-trip against the
// configured backend so misconfiguration fails at startup, not mid-flow.
// The lock probe is retried: the backend may still be coming up when the
// worker starts.
func preflight(ctx context.Context, lockManager *locks.Manager, batchStore *batch.Store) error {
	probeKey := store.LockKey("probe", "startup")
	_, err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) (struct{}, error) {
		err := lockManager.WithLock(ctx, probeKey, 5*time.Second, 0, func(ctx context.Context) error {
			return nil
		})
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("lock probe: %w", err)
	}

	batchID := batchStore.GenerateBatchID()
	if err := batchStore.Save(ctx, "probe", batchID, batch.Payload{"ok": true}, time.Minute); err != nil {
		return fmt.Errorf("batch probe save: %w", err)
	}
	if _, err := batchStore.Get(ctx, "probe", batchID); err != nil {
		return fmt.Errorf("batch probe get: %w", err)
	}
	if err := batchStore.Delete(ctx, "probe", batchID); err != nil {
		return fmt.Errorf("batch probe delete: %w", err)
	}

	return nil
}
