package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

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

	// Redis
	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()

	lookupSvc := lookup.NewService(db, cache, logger, lookup.Options{
		LocalTTL:    cfg.Tenancy.LocalCacheTTL,
		RedisTTL:    cfg.Tenancy.RedisCacheTTL,
		NegativeTTL: cfg.Tenancy.NegativeCacheTTL,
	})

	dns := verifier.NewResolver(cfg.Verifier.ResolverAddr, cfg.Verifier.RecordPrefix, cfg.Verifier.DNSTimeout)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	job := verifier.NewJob(db, dns, lookupSvc, collector, cfg.Verifier.DNSQueriesPerSecond, logger)

	ctx, cancel := context.WithCancel(context.Background())

	ticker := time.NewTicker(cfg.Verifier.Interval)
	defer ticker.Stop()

	go func() {
		// First pass immediately so a restart never delays pending domains
		// by a full interval.
		runOnce(ctx, job, logger)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce(ctx, job, logger)
			}
		}
	}()

	logger.Info("verifier started", zap.Duration("interval", cfg.Verifier.Interval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down verifier")
	cancel()
	logger.Info("verifier stopped")
}

func runOnce(ctx context.Context, job *verifier.Job, logger *zap.Logger) {
	if err := job.Run(ctx); err != nil {
		logger.Error("verification run failed", zap.Error(err))
	}
}
