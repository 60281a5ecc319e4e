package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/config"
	"github.com/hackgods/care-marketplace/internal/db"
	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/metrics"
	redisclient "github.com/hackgods/care-marketplace/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("dev").Fatal("config load error", "error", err)
	}

	log := logger.New(cfg.Env).With("component", "settlement-worker")
	defer log.Sync()

	log.Info("settlement worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "grace", cfg.SettlementGrace)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := db.ConnectMongo(rootCtx, cfg.MongoURI, cfg.MongoUser, cfg.MongoPassword)
	if err != nil {
		log.Fatal("mongo connection error", "error", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error("error closing mongo", "error", err)
		}
	}()
	database := mongoClient.Database(cfg.MongoDB)

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", "error", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("error closing redis", "error", err)
		}
	}()

	repo, err := booking.NewMongoRepository(rootCtx, database)
	if err != nil {
		log.Fatal("booking repository setup error", "error", err)
	}
	svc := booking.NewService(
		repo,
		redisclient.NewRedisWalletLocker(rdb, cfg.LockTTL),
		booking.NewMongoDiscountPolicy(database),
		log,
		metrics.NewNop(),
		cfg.Currency,
	)

	runOnce(rootCtx, svc, cfg.SettlementGrace, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping settlement worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.SettlementGrace, log)
		}
	}
}

// runOnce leaves bookings younger than grace to the request that created them.
func runOnce(ctx context.Context, svc *booking.Service, grace time.Duration, log logger.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	settled, failed, err := svc.SettlePending(runCtx, start.Add(-grace))
	if err != nil {
		log.Error("settlement run error", "error", err, "settled", settled, "failed", failed)
		return
	}
	log.Info("settlement run complete", "settled", settled, "failed", failed, "took", time.Since(start))
}
