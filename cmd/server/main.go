/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the education account server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment)
  2. Initialize logging
  3. Open the document store (sqlite, mongo or memory)
  4. Pick the execution lock (Redis when REDIS_ADDR is set)
  5. Create engine, handler and router
  6. Optionally load the demo scenario and start the background jobs
  7. Start server with graceful shutdown

ENVIRONMENT:
  PORT               HTTP server port (default: 8080)
  ENV                development | production (default: development)
  LOG_LEVEL          zerolog level (default: info)
  STORE_DRIVER       sqlite | mongo | memory (default: sqlite)
  SQLITE_PATH        SQLite database path (default: edusave.db)
  MONGO_URI          MongoDB connection string
  MONGO_DB           MongoDB database name (default: edusave)
  REDIS_ADDR         Redis address for the shared lock (empty: in-process)
  SCHEDULER_ENABLED  Run background jobs (default: true)
  SCHEDULER_CRON     Top-up job schedule (default: every minute)
  OVERDUE_CRON       Overdue sweep schedule (default: 01:00 daily)
  ALLOWED_ORIGINS    Comma separated CORS origins
  SEED_ON_START      Load the demo scenario at startup (default: false)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler and wait for running jobs
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close store and Redis connections

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - api/scheduler.go: Background jobs
*/
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tranminhhien3124027717/agile-moe/api"
	"github.com/tranminhhien3124027717/agile-moe/config"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/generic"
	"github.com/tranminhhien3124027717/agile-moe/generic/store"
	"github.com/tranminhhien3124027717/agile-moe/lock"
	"github.com/tranminhhien3124027717/agile-moe/logging"
	"github.com/tranminhhien3124027717/agile-moe/store/mongo"
	"github.com/tranminhhien3124027717/agile-moe/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel, cfg.IsDevelopment())

	ctx := context.Background()

	ds, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer closeStore()

	locker, closeLock, err := openLocker(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("redis", cfg.RedisAddr).Msg("failed to connect to redis")
	}
	defer closeLock()

	engine := education.NewEngine(education.NewStore(ds), education.WithLocker(locker))
	handler := api.NewHandler(engine)

	if cfg.SeedOnStart {
		if err := handler.Seed(ctx, "demo"); err != nil {
			log.Error().Err(err).Msg("failed to load demo scenario")
		}
	}

	var scheduler *api.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = api.NewScheduler(engine, cfg.SchedulerCron, cfg.OverdueCron)
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start scheduler")
		}
		handler.Jobs = scheduler
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, cfg.Origins()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("env", cfg.Environment).
			Str("store", cfg.StoreDriver).
			Bool("scheduler", cfg.SchedulerEnabled).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn().Msg("background jobs still running at shutdown")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// openStore returns the configured document store and its close function.
func openStore(ctx context.Context, cfg *config.Config) (generic.DocumentStore, func(), error) {
	switch cfg.StoreDriver {
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := mongo.Connect(connectCtx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s, "mongo"), nil
	case "memory":
		return store.NewMemory(), func() {}, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s, "sqlite"), nil
	}
}

// openLocker returns a Redis lock shared between instances when REDIS_ADDR
// is set, and an in-process lock otherwise.
func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}
	client, err := lock.Dial(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedis(client, "edusave:lock:"), closer(client, "redis"), nil
}

func closer(c io.Closer, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Str("resource", name).Msg("close failed")
		}
	}
}
