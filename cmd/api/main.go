package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/storeward/tenant-edge/internal/api"
	"github.com/storeward/tenant-edge/internal/config"
	"github.com/storeward/tenant-edge/internal/lookup"
	"github.com/storeward/tenant-edge/internal/metrics"
	"github.com/storeward/tenant-edge/internal/storage/postgres"
	"github.com/storeward/tenant-edge/internal/storage/redis"
	"github.com/storeward/tenant-edge/internal/verifier"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to init logger:", err)
	}
	defer logger.Sync()

	// Database
	db, err := postgres.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()

	// Tiered domain lookup
	lookupSvc := lookup.NewService(db, cache, logger, lookup.Options{
		LocalTTL:    cfg.Tenancy.LocalCacheTTL,
		RedisTTL:    cfg.Tenancy.RedisCacheTTL,
		NegativeTTL: cfg.Tenancy.NegativeCacheTTL,
	})

	dns := verifier.NewResolver(cfg.Verifier.ResolverAddr, cfg.Verifier.RecordPrefix, cfg.Verifier.DNSTimeout)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	server := api.NewServer(cfg, db, lookupSvc, dns, collector, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("api server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
