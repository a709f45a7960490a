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

	"github.com/joho/godotenv"

	"github.com/angelmondragon/txnflow/api/controllers"
	"github.com/angelmondragon/txnflow/api/routes"
	"github.com/angelmondragon/txnflow/internal/deadletter"
	"github.com/angelmondragon/txnflow/internal/transactions"
	"github.com/angelmondragon/txnflow/pkg/config"
	"github.com/angelmondragon/txnflow/pkg/db"
	"github.com/angelmondragon/txnflow/pkg/instance"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/migrate"
	"github.com/angelmondragon/txnflow/pkg/pubsub"
	"github.com/angelmondragon/txnflow/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		logg.Error(context.Background(), "api exited with error", err)
		os.Exit(1)
	}
}

// run owns every client of the process, so their deferred Close calls finish
// before main exits.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logg := logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})


	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()
	publisher := pubsub.NewEventPublisher(pubsubClient, cfg.PubSub.PublishTimeout)
	defer publisher.Close()

	transactionService, err := transactions.NewService(publisher, cfg.PubSub.CommandsTopic, logg)
	if err != nil {
		return fmt.Errorf("create transaction service: %w", err)
	}

	checks := []controllers.ReadinessCheck{{Name: "pubsub", Ping: pubsubClient.Ping}}

	// left as untyped nils when Redis is absent so the router skips the guards
	var (
		limiter redis.RateLimiter
		idem    redis.IdempotencyStore
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		limiter, idem = redisClient, redisClient
		checks = append(checks, controllers.ReadinessCheck{Name: "redis", Ping: redisClient.Ping})
	} else {
		logg.Warn(ctx, "redis not configured, rate limiting and idempotency keys disabled")
	}

	var deadLetters deadletter.Service
	if cfg.DB.Configured() {
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return fmt.Errorf("bootstrap database: %w", err)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}()
		if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
			return fmt.Errorf("run dev migrations: %w", err)
		}
		deadLetters, err = deadletter.NewService(deadletter.NewRepository(dbClient.DB()))
		if err != nil {
			return fmt.Errorf("create dead-letter service: %w", err)
		}
		checks = append(checks, controllers.ReadinessCheck{Name: "database", Ping: dbClient.Ping})
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, transactionService, deadLetters, limiter, idem, checks...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server stopped unexpectedly: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
	return nil
}
