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
	"go.uber.org/zap/zapcore"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/database"
	"github.com/cartpulse/cartpulse/internal/httpserver"
	cpmetrics "github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/middleware"
	"github.com/cartpulse/cartpulse/internal/retention"
	"github.com/cartpulse/cartpulse/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting CartPulse",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize backing services. Each one is optional: the server
	// degrades to in-process fallbacks for anything unreachable.
	var db *database.PostgresDB
	var redis *database.RedisDB
	var clickhouse *database.ClickHouseDB

	connectCtx, cancelConnect := context.WithTimeout(ctx, 15*time.Second)
	defer cancelConnect()

	db, err = database.NewPostgresDB(connectCtx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		logger.Info("connected to PostgreSQL")
	}

	redis, err = database.NewRedisDB(connectCtx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, live channel and shared dedup markers disabled", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
		logger.Info("connected to Redis")
	}

	if cfg.ClickHouse.Enabled {
		clickhouse, err = database.NewClickHouseDB(connectCtx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, event archive disabled", zap.Error(err))
			clickhouse = nil
		} else {
			defer clickhouse.Close()
			logger.Info("connected to ClickHouse")
		}
	}

	// Run migrations
	if db != nil {
		store := storage.NewPostgresStore(db.Pool)
		if err := store.Migrate(connectCtx); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
	}

	var m *cpmetrics.Metrics
	if cfg.Metrics.Enabled {
		m = cpmetrics.NewMetrics("cartpulse")
	}

	// Create HTTP server
	deps := &httpserver.Dependencies{
		DB:         db,
		Redis:      redis,
		ClickHouse: clickhouse,
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
	}

	server := httpserver.NewServer(deps)

	// Start the retention sweeper over whichever store got wired.
	runner := retention.NewRunner(server.Store(), cfg.Retention, m, nil, logger)
	go runner.Start(ctx)

	// Feed connection pool gauges while the pool is alive.
	if db != nil && m != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					stat := db.Stats()
					m.UpdateDBConnections(int(stat.IdleConns()), int(stat.AcquiredConns()), int(stat.TotalConns()))
				}
			}
		}()
	}

	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	if m != nil {
		rateLimit.SetMetrics(m)
	}

	var handler http.Handler = server
	handler = rateLimit.Handler(handler)
	handler = middleware.NewLoggingMiddleware(logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(logger).Handler(handler)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

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
