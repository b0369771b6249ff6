// Package main is the entry point for the partner gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/circuitbreaker"
	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/gateway"
	"github.com/wirebridge/partnergw/internal/health"
	"github.com/wirebridge/partnergw/internal/observability/logging"
	"github.com/wirebridge/partnergw/internal/ratelimit"
	ratelimitstore "github.com/wirebridge/partnergw/internal/ratelimit/store"
	"github.com/wirebridge/partnergw/internal/router"
	"github.com/wirebridge/partnergw/internal/webhook"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  logging.Level(cfg.LogLevel),
		Format: logging.Format(cfg.LogFormat),
		Output: cfg.LogOutput,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting partner gateway",
		zap.String("version", version),
		zap.String("config", flags.configPath),
		zap.Int("routes", len(cfg.Routes)),
		zap.Int("partners", len(cfg.Partners)),
		zap.Int("subscriptions", len(cfg.Subscriptions)))

	if err := run(cfg, flags.configPath, logger.Logger); err != nil {
		logger.Fatal("gateway exited", zap.Error(err))
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("partnergw version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker(version)

	counterStore, err := buildCounterStore(cfg, checker, logger)
	if err != nil {
		return err
	}
	defer func() { _ = counterStore.Close() }()

	deliveryStore, err := buildDeliveryStore(ctx, cfg, checker, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deliveryStore.Close() }()

	limits := ratelimit.NewRegistry(counterStore, logger.Named("ratelimit"))
	defer func() { _ = limits.Close() }()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout.Duration(),
	}, logger.Named("circuitbreaker"))

	resolver := router.NewResolver(cfg.Routes, logger.Named("router"))

	subscriptions := webhook.NewSubscriptions(cfg.Subscriptions)
	worker, err := webhook.NewWorker(webhook.WorkerConfig{
		PollInterval:  cfg.WebhookPollInterval.Duration(),
		RetryInterval: cfg.WebhookRetryInterval.Duration(),
		Timeout:       cfg.WebhookTimeout.Duration(),
		Workers:       cfg.WebhookWorkers,
		MaxRetries:    cfg.WebhookMaxRetries,
		BaseDelay:     cfg.WebhookBaseDelay.Duration(),
		Backoff:       cfg.WebhookBackoff,
	}, subscriptions, deliveryStore, logger.Named("webhook"))
	if err != nil {
		return err
	}
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = worker.Close() }()

	dispatcher := webhook.NewDispatcher(subscriptions, deliveryStore, worker, logger.Named("webhook"))

	orchestrator := gateway.NewOrchestrator(cfg, resolver, limits, breakers,
		gateway.NewForwarder(logger.Named("forwarder")), logger.Named("gateway"))

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		logger.Info("configuration reloaded",
			zap.Int("routes", len(next.Routes)),
			zap.Int("partners", len(next.Partners)))
		orchestrator.UpdateConfig(next)
	}, config.WithWatcherLogger(logger.Named("config")))
	if err != nil {
		logger.Warn("configuration hot reload disabled", zap.Error(err))
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("configuration watcher failed to start", zap.Error(err))
		}
		defer func() { _ = watcher.Stop() }()
	}

	server := gateway.NewServer(cfg, gateway.ServerDeps{
		Orchestrator:  orchestrator,
		Subscriptions: subscriptions,
		Deliveries:    deliveryStore,
		Dispatcher:    dispatcher,
		Health:        checker,
	}, logger.Named("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}
	return nil
}

// buildCounterStore selects the rate limit counter backend. The redis
// store is wrapped in a connection breaker so an outage degrades to
// fail-open instead of stalling requests.
func buildCounterStore(cfg *config.Config, checker *health.Checker, logger *zap.Logger) (ratelimitstore.Store, error) {
	if cfg.StoreType != "redis" {
		return ratelimitstore.NewMemoryStore(), nil
	}

	redisStore, err := ratelimitstore.NewRedisStore(&ratelimitstore.RedisConfig{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
		Logger:   logger.Named("redis"),
	})
	if err != nil {
		return nil, err
	}

	checker.RegisterCheck("redis", func(ctx context.Context) error {
		return redisStore.Client().Ping(ctx).Err()
	})

	return ratelimitstore.NewGuardedStore(redisStore, logger.Named("storeguard")), nil
}

// buildDeliveryStore selects the webhook delivery backend.
func buildDeliveryStore(ctx context.Context, cfg *config.Config, checker *health.Checker, logger *zap.Logger) (webhook.Store, error) {
	if cfg.WebhookStoreDSN == "" {
		logger.Info("using in-memory webhook delivery store")
		return webhook.NewMemoryStore(), nil
	}

	store, err := webhook.NewPostgresStore(ctx, cfg.WebhookStoreDSN)
	if err != nil {
		return nil, err
	}

	checker.RegisterCheck("webhook_store", store.Ping)

	return store, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
