package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atmosdeck/weather-dashboard-service/internal/alerts"
	"github.com/atmosdeck/weather-dashboard-service/internal/cache"
	"github.com/atmosdeck/weather-dashboard-service/internal/config"
	"github.com/atmosdeck/weather-dashboard-service/internal/geocode"
	httphandler "github.com/atmosdeck/weather-dashboard-service/internal/http"
	"github.com/atmosdeck/weather-dashboard-service/internal/observability"
	"github.com/atmosdeck/weather-dashboard-service/internal/provider"
	"github.com/atmosdeck/weather-dashboard-service/internal/scheduler"
	"github.com/atmosdeck/weather-dashboard-service/internal/service"
	"github.com/atmosdeck/weather-dashboard-service/internal/sse"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
)

const version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Cache: fast in-process tier over a shared tier. Memcached gets wrapped
	// so an unreachable backend degrades to in-process emulation instead of
	// failing lookups.
	var sharedTier cache.SharedTier
	var memcacheCloser *cache.MemcachedTier
	var cachePing func() error
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedTier(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		memcacheCloser = mc
		resilient := cache.NewResilientTier(mc, logger)
		sharedTier = resilient
		cachePing = resilient.Ping
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		sharedTier = cache.NewMemoryTier()
		logger.Info("cache backend: in_memory")
	}
	tieredCache := cache.NewTieredCache(sharedTier, logger)

	weatherClient := provider.NewClient(provider.Config{
		ForecastURL:      cfg.ForecastAPIURL,
		AirQualityURL:    cfg.AirQualityAPIURL,
		ArchiveURL:       cfg.HistoricalAPIURL,
		Timeout:          cfg.ProviderTimeout,
		RetryAttempts:    cfg.RetryAttempts,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryMaxDelay:    cfg.RetryMaxDelay,
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
	})

	geocoder := geocode.NewClient(cfg.GeocodingAPIURL, cfg.ProviderTimeout, tieredCache, logger)

	var alertStore store.AlertStore
	var historyStore store.HistoryStore
	var favoriteStore store.FavoriteStore
	var pgCloser *store.PostgresStore
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := store.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres store", zap.Error(err))
		}
		pgCloser = pg
		alertStore, historyStore, favoriteStore = pg, pg, pg
		logger.Info("store backend: postgres")
	default:
		mem := store.NewMemoryStore()
		alertStore, historyStore, favoriteStore = mem, mem, mem
		logger.Info("store backend: memory")
	}

	weatherService := service.NewWeatherService(
		geocoder, weatherClient, tieredCache, historyStore, logger,
		service.TTLConfig{
			Current:    cfg.CurrentTTL,
			Forecast:   cfg.ForecastTTL,
			Hourly:     cfg.HourlyTTL,
			Historical: cfg.HistoricalTTL,
		},
		cfg.CoalesceTimeout,
	)

	hub := sse.NewHub(logger)

	engine := alerts.NewEngine(alertStore, historyStore, weatherClient, hub, logger,
		alerts.WithInterval(cfg.AlertInterval),
		alerts.WithErrorRetryDelay(cfg.AlertRetryDelay),
		alerts.WithCooldown(cfg.AlertCooldown),
	)
	engineCtx, stopEngine := context.WithCancel(context.Background())
	go engine.Run(engineCtx)

	jobs := scheduler.New(weatherService, historyStore, favoriteStore, logger,
		cfg.PurgeInterval, cfg.WarmInterval)
	if err := jobs.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(
		weatherService, geocoder, alertStore, historyStore, favoriteStore,
		hub, engine, cachePing, weatherClient.BreakerStates, logger, version,
	)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the SSE stream holds its connection open.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	stopEngine()
	select {
	case <-engine.Done():
	case <-shutdownCtx.Done():
		logger.Warn("alert engine did not stop before deadline")
	}

	jobs.Stop()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if pgCloser != nil {
		if err := pgCloser.Close(); err != nil {
			logger.Error("postgres close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
