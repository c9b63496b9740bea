// Package main provides the worker service entry point: it drains the
// transactional outbox into the event bus and runs the sagas that react
// to published events.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/eventfold/eventfold/internal/application/appcore"
	"github.com/eventfold/eventfold/internal/application/saga"
	"github.com/eventfold/eventfold/internal/config"
	"github.com/eventfold/eventfold/internal/domain/order"
	"github.com/eventfold/eventfold/internal/infrastructure/eventbus"
	"github.com/eventfold/eventfold/internal/infrastructure/eventstore"
	"github.com/eventfold/eventfold/internal/infrastructure/metrics"
	"github.com/eventfold/eventfold/internal/infrastructure/outbox"
	"github.com/eventfold/eventfold/internal/infrastructure/repository"
	"github.com/eventfold/eventfold/internal/worker"
)

// Timeout constants for worker service.
const redisPingTimeout = 5 * time.Second

//nolint:funlen // Main function handles startup orchestration and is readable as-is
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg)

	logger.Info("starting eventfold worker service",
		slog.String("version", "0.1.0"),
		slog.String("environment", cfg.App.Environment),
	)

	// Create a context that will be cancelled on shutdown signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	go handleShutdown(cancel, logger)

	if cfg.App.IsInMemoryMode() {
		if runErr := runInMemory(ctx, cfg, logger); runErr != nil {
			logger.Error("in-memory worker error", slog.String("error", runErr.Error()))
			cancel()
			os.Exit(1) //nolint:gocritic // cancel() called before exit
		}
		return
	}

	// Connect to MongoDB
	mongoClient, err := connectMongoDB(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to MongoDB", slog.String("error", err.Error()))
		cancel()
		os.Exit(1) //nolint:gocritic // cancel() called before exit
	}
	defer func() {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer disconnectCancel()
		if disconnectErr := mongoClient.Disconnect(disconnectCtx); disconnectErr != nil {
			logger.Error("failed to disconnect from MongoDB", slog.String("error", disconnectErr.Error()))
		}
	}()

	db := mongoClient.Database(cfg.MongoDB.Database)

	// Setup outbox
	mongoOutbox := outbox.NewMongoOutbox(
		db.Collection(cfg.Outbox.Collection),
		outbox.WithLogger(logger),
	)
	if indexErr := mongoOutbox.EnsureIndexes(ctx); indexErr != nil {
		logger.Error("failed to create outbox indexes", slog.String("error", indexErr.Error()))
		os.Exit(1)
	}

	// Setup event store; saga follow-up events go through it, so they
	// are queued for publication like any other append.
	eventStore := eventstore.NewMongoEventStore(db,
		eventstore.WithCollections(cfg.EventStore.EventsCollection, cfg.EventStore.SnapshotsCollection),
		eventstore.WithOutbox(mongoOutbox),
		eventstore.WithLogger(logger),
	)
	if indexErr := eventStore.EnsureIndexes(ctx); indexErr != nil {
		logger.Error("failed to create event store indexes", slog.String("error", indexErr.Error()))
		os.Exit(1)
	}

	// Setup Redis for EventBus
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.Error("failed to close Redis", slog.String("error", closeErr.Error()))
		}
	}()

	// Verify Redis connection
	pingCtx, pingCancel := context.WithTimeout(ctx, redisPingTimeout)
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		pingCancel()
		logger.Error("failed to connect to Redis", slog.String("error", pingErr.Error()))
		os.Exit(1)
	}
	pingCancel()

	logger.InfoContext(ctx, "connected to Redis", slog.String("addr", cfg.Redis.Addr))

	// Setup EventBus
	deadLetterHandler := eventbus.NewDeadLetterHandler(redisClient,
		eventbus.WithDeadLetterQueueKey(cfg.EventBus.DeadLetterQueueKey),
		eventbus.WithDeadLetterLogger(logger),
	)
	eventBus := eventbus.NewRedisEventBus(
		redisClient,
		eventbus.WithLogger(logger),
		eventbus.WithChannelPrefix(cfg.EventBus.RedisChannelPrefix),
		eventbus.WithDeadLetterHandler(deadLetterHandler),
	)

	// Setup sagas
	sagaManager, err := setupSagaManager(cfg, eventStore, logger)
	if err != nil {
		logger.Error("failed to set up sagas", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := eventbus.NewHandlerRegistry(eventBus, logger)
	if regErr := registry.RegisterSagaManager(sagaManager); regErr != nil {
		logger.Error("failed to register saga manager", slog.String("error", regErr.Error()))
		os.Exit(1)
	}
	if cfg.IsDevelopment() {
		loggingHandler := eventbus.NewLoggingHandler(logger)
		if regErr := registry.RegisterLoggingHandler(loggingHandler, eventbus.AllEventTypes()); regErr != nil {
			logger.Error("failed to register logging handler", slog.String("error", regErr.Error()))
			os.Exit(1)
		}
	}

	// Setup outbox worker
	outboxConfig := worker.OutboxWorkerConfig{
		PollInterval:    cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
		CleanupAge:      cfg.Outbox.CleanupAge,
		CleanupInterval: cfg.Outbox.CleanupInterval,
		Enabled:         cfg.Outbox.Enabled,
	}

	outboxMetrics := metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)

	outboxWorker := worker.NewOutboxWorker(
		mongoOutbox,
		eventBus,
		eventstore.DefaultRegistry(),
		logger,
		outboxMetrics,
		outboxConfig,
	)

	logger.Info("starting workers",
		slog.Bool("outbox_enabled", outboxConfig.Enabled),
		slog.Duration("outbox_poll_interval", outboxConfig.PollInterval),
	)

	var wg sync.WaitGroup

	// Start event bus message loop; Start blocks until shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		if startErr := eventBus.Start(ctx); startErr != nil && !errors.Is(startErr, context.Canceled) {
			logger.Error("event bus error", slog.String("error", startErr.Error()))
		}
	}()

	// Start outbox worker
	wg.Add(1)
	go func() {
		defer wg.Done()
		if runErr := outboxWorker.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.Error("outbox worker error", slog.String("error", runErr.Error()))
		}
	}()

	// Wait for shutdown signal, then drain
	wg.Wait()

	if shutdownErr := eventBus.Shutdown(); shutdownErr != nil {
		logger.Error("event bus shutdown error", slog.String("error", shutdownErr.Error()))
	}

	logger.Info("worker service shutdown complete")
}

// setupLogger creates and configures the structured logger based on configuration.
func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	level := parseLogLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.IsDevelopment(),
	}

	switch cfg.Log.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// connectMongoDB establishes a connection to MongoDB.
func connectMongoDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mongo.Client, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.MongoDB.URI).
		SetMaxPoolSize(cfg.MongoDB.MaxPoolSize)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, err
	}

	// Ping to verify connection
	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.MongoDB.Timeout)
	defer pingCancel()

	if pingErr := client.Ping(pingCtx, nil); pingErr != nil {
		return nil, pingErr
	}

	logger.InfoContext(ctx, "connected to MongoDB",
		slog.String("database", cfg.MongoDB.Database),
	)

	return client, nil
}

// handleShutdown listens for OS signals and cancels the context.
func handleShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-quit
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	cancel()
}

// runInMemory runs the saga pipeline against the in-memory event store.
// Commits are delivered in-process, so there is no outbox to drain and
// no bus to publish to. Intended for local development only.
func runInMemory(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Warn("starting in IN-MEMORY mode, events are not durable",
		slog.String("mode", string(cfg.App.Mode)),
	)

	store := eventstore.NewInMemoryEventStore()

	sagaManager, err := setupSagaManager(cfg, store, logger)
	if err != nil {
		return err
	}

	detach := sagaManager.Attach(ctx)
	defer detach()

	<-ctx.Done()
	logger.Info("worker service shutdown complete")
	return nil
}

// setupSagaManager creates the saga manager with every known saga
// registered.
func setupSagaManager(
	cfg *config.Config,
	store appcore.EventStore,
	logger *slog.Logger,
) (*saga.Manager, error) {
	orders := repository.New(store, order.New,
		repository.WithSnapshotThreshold(cfg.EventStore.SnapshotThreshold),
		repository.WithLogger(logger),
	)

	manager := saga.NewManager(store, saga.WithLogger(logger))
	if err := manager.Register(saga.NewOrderPaymentSaga(orders).Definition()); err != nil {
		return nil, err
	}

	return manager, nil
}
