/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags, services file)
  2. Initialize SQLite store
  3. Pick the catch-up locker (in-process, or Redis when REDIS_ADDR is set)
  4. Register stock services and build the registry
  5. Create API handler, router and catch-up scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port              HTTP server port (default: 8080, env PORT)
  -db                SQLite database path (default: stock.db, env DB_PATH)
                     Use ":memory:" for in-memory database
  -services          Services YAML file (env SERVICES_FILE)
  -catchup-interval  Checkpoint catch-up interval (default: 1m)
  -retention-days    Prune folded history older than this (default: 0, keep)
  -scenarios         Enable demo scenario endpoints (resets data!)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the catch-up scheduler
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/stock.db"

  # Run with in-memory database and demo data endpoints
  ./server -db=":memory:" -scenarios

  # Share catch-up locks between replicas
  REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: All settings
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/api"
	"github.com/warp/stock-engine/config"
	"github.com/warp/stock-engine/lock"
	"github.com/warp/stock-engine/logging"
	"github.com/warp/stock-engine/movement"
	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/service/alwaysinstock"
	"github.com/warp/stock-engine/service/local"
	"github.com/warp/stock-engine/service/remote"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	engine, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer engine.Close()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      engine.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	engine.scheduler.Start()

	// Start server in goroutine
	go func() {
		logger.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	engine.scheduler.Stop()

	logger.Info().Msg("server stopped")
}

// app is everything main starts and stops.
type app struct {
	store     *sqlite.Store
	redis     *redis.Client
	registry  *service.Registry
	router    *chi.Mux
	scheduler *api.CatchUpScheduler
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{store: store}

	locker, err := a.locker(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	ledger := stock.NewLedger(store)
	agg := stock.NewAggregator(store, store, locker, logger.With().Str("component", "aggregator").Logger())
	locations := local.NewLocationCache(store)

	registry, err := buildRegistry(cfg, ledger, agg, locations, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = registry

	ops := movement.New(registry, logger.With().Str("component", "movement").Logger())
	handler := api.NewHandler(registry, ops, ledger, agg, locations, logger.With().Str("component", "api").Logger())
	handler.Health = store
	handler.Retention = cfg.Retention()
	handler.CatchUpBatch = cfg.CatchUpBatch
	if cfg.EnableScenarios {
		handler.Reset = store
	}
	a.router = api.NewRouter(handler, cfg.CORSOrigins, logger)

	a.scheduler = api.NewCatchUpScheduler(agg, logger.With().Str("component", "scheduler").Logger())
	a.scheduler.Interval = cfg.CatchUpInterval
	a.scheduler.Batch = cfg.CatchUpBatch
	a.scheduler.Retention = cfg.Retention()

	return a, nil
}

// locker is in-process unless Redis is configured.
func (a *app) locker(cfg *config.Config, logger zerolog.Logger) (stock.Locker, error) {
	if cfg.RedisAddr == "" {
		return stock.NewKeyedMutex(), nil
	}

	a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis catch-up lock")
	return lock.NewRedis(a.redis, cfg.LockTTL, logger.With().Str("component", "lock").Logger()), nil
}

func buildRegistry(cfg *config.Config, ledger *stock.Ledger, agg *stock.Aggregator, locations *local.LocationCache, logger zerolog.Logger) (*service.Registry, error) {
	s := cfg.Services

	opts := local.Options{
		SyncCatchUp: cfg.SyncCatchUp,
		Logger:      logger.With().Str("service", local.ServiceID).Logger(),
	}
	if s.TransactionLocationPolicy == config.PolicyHighestStock {
		opts.Policy = local.HighestStock{Levels: agg}
	}

	registry := service.NewRegistry(s.Resolution(), logger.With().Str("component", "registry").Logger())
	if err := registry.Register(local.New(ledger, agg, locations, opts)); err != nil {
		return nil, err
	}
	if err := registry.Register(alwaysinstock.New(decimal.NewFromInt(s.AlwaysInStockLevel))); err != nil {
		return nil, err
	}
	if s.Remote != nil {
		svc, err := remote.New(remote.Options{
			ID:       s.Remote.ID,
			BaseURL:  s.Remote.BaseURL,
			Timeout:  s.Remote.Timeout,
			RetryMax: s.Remote.Retries,
			Logger:   logger.With().Str("service", "remote").Logger(),
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
	}

	// Surface a broken default at startup rather than on the first request.
	if def := s.DefaultService; def != "" {
		if _, err := registry.Get(def); err != nil {
			return nil, fmt.Errorf("default service: %w", err)
		}
	}
	for key, id := range s.Overrides {
		if _, err := registry.Get(id); err != nil {
			return nil, fmt.Errorf("override %q: %w", key, err)
		}
	}
	return registry, nil
}

// Close releases connections. Safe on a partially built app.
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
