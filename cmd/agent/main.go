package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"relaysync/internal/api"
	"relaysync/internal/cache"
	"relaysync/internal/config"
	"relaysync/internal/conflict"
	"relaysync/internal/database"
	"relaysync/internal/domain"
	"relaysync/internal/engine"
	"relaysync/internal/events"
	"relaysync/internal/logging"
	"relaysync/internal/metrics"
	"relaysync/internal/netmon"
	"relaysync/internal/proxy"
	"relaysync/internal/repository"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := logging.Component(baseLogger, "agent-main")

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	cacheRepo := initCacheRepository(ctx, cfg, &logger)
	bus := events.NewBus()

	monitor := netmon.NewMonitor(&logger, cfg.Sync.SettleDelay(), cfg.Sync.SlowDownlinkMbps)
	probeClient := &http.Client{Timeout: 5 * time.Second}
	go monitor.Run(ctx, probeClient, cfg.Upstream.BaseURL+"/health", 15*time.Second)

	tokens := &api.StoreTokenSource{Store: db, Name: cfg.Upstream.TokenName}
	client := api.NewClient(cfg.Upstream, tokens)

	strategy, err := conflict.ParseStrategy(cfg.Conflict.Strategy)
	if err != nil {
		return err
	}
	resolver := conflict.NewResolver(strategy, client, db, bus, &logger)

	syncEngine := engine.NewEngine(db, client, monitor, resolver, bus, cfg.Sync, &logger)
	if err := syncEngine.Load(ctx); err != nil {
		return err
	}
	go syncEngine.Start(ctx)

	upstream := proxy.NewUpstream(cfg.Upstream, &logger)
	replayQueue := proxy.NewReplayQueue(db, upstream, monitor, syncEngine, bus, &logger)

	// Reconnects drain both queues after the settle window.
	monitor.OnReconnect(func() {
		if _, err := replayQueue.Flush(ctx); err != nil {
			logger.Error().Err(err).Msg("Replay flush after reconnect failed")
		}
		syncEngine.SyncAll(ctx)
	})

	routes := cache.NewRouteTable(cfg.Cache)
	cacheEngine := cache.NewEngine(cacheRepo, upstream, routes, &logger)

	sweeper := cache.NewSweeper(cacheRepo, &logger)
	go sweeper.Run(ctx, time.Duration(cfg.Cache.SweepIntervalMinutes)*time.Minute)

	handler := proxy.NewHandler(cacheEngine, replayQueue, upstream, monitor, db, cfg.Upstream.TokenName, &logger)
	admin := proxy.NewAdmin(syncEngine, replayQueue, monitor, cfg.Admin, &logger)
	server := proxy.NewServer(cfg.Proxy.Port, handler, admin, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Proxy shutdown failed")
		}
	}()

	logger.Info().Str("environment", cfg.App.Environment).Msg("Agent starting")
	return server.Start()
}

// initCacheRepository prefers redis with an in-memory fallback; without redis
// the in-memory store runs alone.
func initCacheRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.CacheRepository {
	memory := repository.NewMemoryCacheRepository()

	if !cfg.Redis.Enabled {
		logger.Info().Msg("Redis disabled, using in-memory cache only")
		return memory
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("Redis unreachable at startup, failover will probe for recovery")
	}

	return repository.NewFailoverCacheRepository(repository.NewRedisCacheRepository(client), memory, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", srv.Addr).Msg("Metrics listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("Metrics server error")
	}
}
