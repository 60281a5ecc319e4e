package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hackgods/care-marketplace/internal/api"
	"github.com/hackgods/care-marketplace/internal/auth"
	"github.com/hackgods/care-marketplace/internal/booking"
	"github.com/hackgods/care-marketplace/internal/config"
	"github.com/hackgods/care-marketplace/internal/db"
	"github.com/hackgods/care-marketplace/internal/logger"
	"github.com/hackgods/care-marketplace/internal/metrics"
	redisclient "github.com/hackgods/care-marketplace/internal/redis"
	"github.com/hackgods/care-marketplace/internal/ticket"
	"github.com/hackgods/care-marketplace/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("dev").Fatal("config load error", "error", err)
	}

	log := logger.New(cfg.Env)
	defer log.Sync()

	log.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", cfg.Version)

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
	log.Info("connected to MongoDB", "database", cfg.MongoDB)

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", "error", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("error closing redis", "error", err)
		}
	}()
	log.Info("connected to Redis", "addr", cfg.RedisAddr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("care", reg)

	setupCtx, cancelSetup := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancelSetup()

	bookingRepo, err := booking.NewMongoRepository(setupCtx, database)
	if err != nil {
		log.Fatal("booking repository setup error", "error", err)
	}
	bookings := booking.NewService(
		bookingRepo,
		redisclient.NewRedisWalletLocker(rdb, cfg.LockTTL),
		booking.NewMongoDiscountPolicy(database),
		log.With("component", "booking"),
		m,
		cfg.Currency,
	)

	trackingRepo, err := tracking.NewMongoRepository(setupCtx, database)
	if err != nil {
		log.Fatal("tracking repository setup error", "error", err)
	}
	trackingSvc := tracking.NewService(
		trackingRepo,
		tracking.DefaultVocabularies(),
		tracking.NewMongoSubjectUpdater(database),
		log.With("component", "tracking"),
		m,
	)

	health := []api.Dependency{
		{Name: "mongo", Check: func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		}},
		{Name: "redis", Check: redisCheck(rdb), Optional: true},
	}

	var store ticket.Store
	if cfg.PostgresDSN != "" {
		pgPool, err := db.ConnectPostgres(setupCtx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connection error", "error", err)
		}
		defer pgPool.Close()

		pg := ticket.NewPgStore(pgPool)
		if err := pg.Migrate(setupCtx, ticket.DefaultAgents()); err != nil {
			log.Fatal("ticket schema migration error", "error", err)
		}
		store = pg
		health = append(health, api.Dependency{Name: "postgres", Check: postgresCheck(pgPool), Optional: true})
		log.Info("connected to Postgres, tickets are persistent")
	} else {
		store = ticket.NewMemoryStore(ticket.DefaultAgents())
		log.Warn("POSTGRES_DSN not set, tickets are kept in memory")
	}
	tickets := ticket.NewService(store, log.With("component", "ticket"), m, cfg.TicketSLA, cfg.TicketLanguage)

	router := api.NewRouter(api.RouterConfig{
		Bookings: bookings,
		Tracking: trackingSvc,
		Tickets:  tickets,
		Tokens:   auth.NewTokens(cfg.JWTSecret, 0),
		Log:      log,
		Metrics:  m,
		Gatherer: reg,
		Health:   health,
		Env:      cfg.Env,
		Version:  cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	log.Info("shutting down api-server")
}

func redisCheck(rdb *redis.Client) api.Check {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

func postgresCheck(pool *pgxpool.Pool) api.Check {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
