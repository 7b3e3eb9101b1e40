// Package app provides the main application lifecycle management for the
// leadflow service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/leadflow/internal/api"
	"github.com/jonesrussell/leadflow/internal/config"
	"github.com/jonesrussell/leadflow/internal/database"
	"github.com/jonesrussell/leadflow/internal/dedup"
	"github.com/jonesrussell/leadflow/internal/dlq"
	"github.com/jonesrussell/leadflow/internal/enrichment"
	"github.com/jonesrussell/leadflow/internal/leads"
	"github.com/jonesrussell/leadflow/internal/logger"
	"github.com/jonesrussell/leadflow/internal/notify"
	"github.com/jonesrussell/leadflow/internal/pipeline"
	"github.com/jonesrussell/leadflow/internal/retry"
	"github.com/jonesrussell/leadflow/internal/status"
	"github.com/jonesrussell/leadflow/internal/telemetry"
	"github.com/jonesrussell/leadflow/internal/worker"
)

const pingTimeout = 5 * time.Second

// App represents the leadflow application with all its dependencies
type App struct {
	config       *config.Config
	logger       logger.Logger
	db           *sqlx.DB
	redisClient  redis.UniversalClient
	pipeline     *pipeline.Pipeline
	replayWorker *worker.ReplayWorker
	httpServer   *http.Server
	version      string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "leadflow"),
		logger.String("version", opts.Version),
	)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
		db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Redis: %w", pingErr)
	}

	tel := telemetry.NewProvider()

	enricher, err := enrichment.NewClient(cfg.Enrichment, appLogger)
	if err != nil {
		db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create enrichment client: %w", err)
	}
	notifier, err := notify.NewClient(cfg.Notify, appLogger)
	if err != nil {
		db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create notify client: %w", err)
	}

	repo := database.NewLeadRepository(db)
	tracker := status.NewTracker(cfg.Pipeline.StatusTTL, appLogger)
	deadQueue := dlq.NewQueue(cfg.Pipeline.DLQMaxRetries, appLogger)
	archive := dlq.NewArchive(redisClient, appLogger)

	pipe := pipeline.New(enricher, enricher, repo, notifier, tracker, deadQueue,
		pipeline.Config{
			Retry: retry.Config{
				MaxAttempts: cfg.Pipeline.RetryMaxAttempts,
				BaseDelay:   cfg.Pipeline.RetryBaseDelay,
				MaxDelay:    cfg.Pipeline.RetryMaxDelay,
				Multiplier:  2.0,
			},
			BreakerThreshold:    cfg.Pipeline.BreakerFailureThreshold,
			BreakerResetTimeout: cfg.Pipeline.BreakerResetTimeout,
		}, tel, appLogger)

	leadService := leads.NewService(repo, appLogger)

	replayWorker := worker.NewReplayWorker(deadQueue, archive, pipe,
		worker.ReplayWorkerConfig{
			ReplaySchedule: cfg.Worker.ReplaySchedule,
			FlushInterval:  cfg.Worker.FlushInterval,
		}, tel, appLogger)

	dedupTracker := dedup.NewTracker(redisClient, cfg.Pipeline.StatusTTL, appLogger)

	handlers := api.NewHandlers(pipe, leadService, deadQueue, archive, dedupTracker,
		repo, redisPinger{redisClient}, tel, appLogger, opts.Version)
	router := api.NewRouter(handlers, tel.Handler(), cfg.Debug, appLogger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		config:       cfg,
		logger:       appLogger,
		db:           db,
		redisClient:  redisClient,
		pipeline:     pipe,
		replayWorker: replayWorker,
		httpServer:   httpServer,
		version:      opts.Version,
	}, nil
}

// redisPinger adapts the Redis client to the api health check interface
type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	if a.config.Worker.Enabled {
		if err := a.replayWorker.Start(ctx); err != nil {
			return fmt.Errorf("start replay worker: %w", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting",
			logger.String("address", a.config.Server.Address),
			logger.Bool("debug", a.config.Debug))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	return a.waitForShutdown(ctx, serverErr)
}

// waitForShutdown handles graceful shutdown
func (a *App) waitForShutdown(ctx context.Context, serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownErr error

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully",
			logger.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Shutting down, context cancelled")
	case err := <-serverErr:
		a.logger.Error("Server error", logger.Error(err))
		shutdownErr = err
	}

	a.shutdown()
	a.logger.Info("Service stopped")
	return shutdownErr
}

// shutdown stops intake first, then drains in-flight jobs, then stops the
// worker so the final archive flush sees the complete dead-letter queue
func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("HTTP server stopped")
	}

	a.pipeline.Wait()

	if a.config.Worker.Enabled {
		a.replayWorker.Stop()
	}
}

// Close cleans up resources
func (a *App) Close() error {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", logger.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}
