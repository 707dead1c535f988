package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ipick/shop-analytics/internal/analytics"
	"github.com/ipick/shop-analytics/internal/config"
	"github.com/ipick/shop-analytics/internal/database"
	"github.com/ipick/shop-analytics/internal/geo"
	"github.com/ipick/shop-analytics/internal/httpserver"
	"github.com/ipick/shop-analytics/internal/metrics"
	"github.com/ipick/shop-analytics/internal/middleware"
	"github.com/ipick/shop-analytics/internal/reporting"
	"github.com/ipick/shop-analytics/internal/storage"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting shop analytics API",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace, nil)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		logger.Fatal("invalid attribution settings", zap.Error(err))
	}

	checks := make(map[string]httpserver.HealthChecker)
	memory := storage.NewInMemoryStore()
	if cfg.Server.SeedFile != "" {
		if err := memory.LoadFixture(cfg.Server.SeedFile); err != nil {
			logger.Fatal("failed to load seed file", zap.String("path", cfg.Server.SeedFile), zap.Error(err))
		}
		logger.Info("loaded seed data", zap.String("path", cfg.Server.SeedFile))
	}

	var commerce storage.CommerceStore = memory
	var journeys storage.JourneyStore = memory

	// Try to connect to PostgreSQL
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		} else {
			defer db.Close()
			commerce = storage.NewPostgresStore(db.Pool)
			checks["postgres"] = db
			if m != nil {
				go reportPoolStats(ctx, db, m)
			}
		}
	}

	// Try to connect to ClickHouse
	if cfg.ClickHouse.Enabled {
		ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, journeys served from memory", zap.Error(err))
		} else {
			defer ch.Close()
			journeys = storage.NewClickHouseJourneyStore(ch.Conn)
			checks["clickhouse"] = ch
		}
	}

	// Try to connect to Redis
	var cache reporting.Cache
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, report caching disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			cache = reporting.NewRedisCache(rdb.Client, "")
			checks["redis"] = rdb
		}
	}

	var resolver *geo.Resolver
	if cfg.Geo.Enabled {
		locator, err := geo.OpenMaxMind(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("GeoIP database not available, country backfill disabled", zap.Error(err))
		} else {
			resolver = geo.NewResolver(locator, cfg.Geo.CacheSize, cfg.Geo.CacheTTL, m)
			defer resolver.Close()
		}
	}

	svc := reporting.NewService(reporting.Dependencies{
		Commerce: commerce,
		Journeys: journeys,
		Engine:   engine,
		Geo:      resolver,
		Cache:    cache,
		CacheTTL: cfg.Dashboard.CacheTTL,
		Metrics:  m,
		Logger:   logger,
	})

	limiter := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	limiter.SetMetrics(m)
	go cleanupLimiters(ctx, limiter)

	// Create HTTP server
	handler := httpserver.NewServer(&httpserver.Dependencies{
		Reports:     svc,
		Checks:      checks,
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		RateLimiter: limiter,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// newEngine builds the analytics engine from the attribution and dashboard settings.
func newEngine(cfg *config.Config) (*analytics.Engine, error) {
	tieBreak, err := analytics.ParseTieBreak(cfg.Attribution.TieBreak)
	if err != nil {
		return nil, err
	}
	matcher := analytics.NewMatcher(
		analytics.WithWindow(cfg.Attribution.Window),
		analytics.WithConversionStatus(cfg.Attribution.ConversionStatus),
		analytics.WithSourceTerms(cfg.Attribution.SourceTerms...),
		analytics.WithTieBreak(tieBreak),
	)
	return analytics.NewEngine(matcher, analytics.PageSizes{
		RecentOrders:    cfg.Dashboard.RecentOrders,
		RecentCheckouts: cfg.Dashboard.RecentCheckouts,
		RecentReferrals: cfg.Dashboard.RecentReferrals,
		RecentJourneys:  cfg.Dashboard.RecentJourneys,
		TopPages:        cfg.Dashboard.TopPages,
		TopLists:        cfg.Dashboard.TopLists,
	}), nil
}

func reportPoolStats(ctx context.Context, db *database.PostgresDB, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateDBStats(db.PoolCounts())
		}
	}
}

func cleanupLimiters(ctx context.Context, rl *middleware.RateLimitMiddleware) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.CleanupIPLimiters()
		}
	}
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() || cfg.Log.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	// Set log level
	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
