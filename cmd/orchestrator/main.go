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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/txnflow/internal/saga"
	"github.com/angelmondragon/txnflow/pkg/config"
	"github.com/angelmondragon/txnflow/pkg/idempotency"
	"github.com/angelmondragon/txnflow/pkg/instance"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
	"github.com/angelmondragon/txnflow/pkg/pubsub"
	"github.com/angelmondragon/txnflow/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "orchestrator"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		logg.Error(context.Background(), "orchestrator exited with error", err)
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
	cfg.Service.Kind = "orchestrator"

	logg := logger.New(logger.Options{
		ServiceName: "orchestrator",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.OrchestratorSubscription)
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

	deps := []dependency{{name: "pubsub", ping: pubsubClient.Ping}}

	var dedup saga.Deduplicator
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis client", err)
			}
		}()
		manager, err := idempotency.NewManager(redisClient, cfg.Saga.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("build idempotency guard: %w", err)
		}
		dedup = manager
		deps = append(deps, dependency{name: "redis", ping: redisClient.Ping})
	} else {
		logg.Warn(ctx, "redis not configured, redelivered commands will not be de-duplicated")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	assessor, err := saga.NewRandomAssessor(
		cfg.Saga.RiskLowProbability,
		cfg.Saga.RiskMinDelay,
		cfg.Saga.RiskMaxDelay,
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("build risk assessor: %w", err)
	}

	orchestrator, err := saga.New(saga.Params{
		Logger:      logg.Component("saga"),
		Publisher:   publisher,
		Assessor:    assessor,
		Topics:      saga.Topics{Events: cfg.PubSub.EventsTopic, DLQ: cfg.PubSub.DLQTopic},
		Dedup:       dedup,
		Metrics:     metrics.NewSagaMetrics(registry),
		RiskTimeout: cfg.Saga.RiskTimeout,
	})
	if err != nil {
		return fmt.Errorf("build saga orchestrator: %w", err)
	}

	consumer, err := saga.NewConsumer(
		ctx,
		pubsubClient.OrchestratorSubscription(),
		orchestrator,
		cfg.Saga.MaxConcurrent,
		cfg.Saga.DrainTimeout,
		logg,
	)
	if err != nil {
		return fmt.Errorf("build saga consumer: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              ":" + cfg.Saga.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	service, err := NewService(ServiceParams{
		Logger:        logg,
		Consumer:      consumer,
		MetricsServer: metricsServer,
		Dependencies:  deps,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator service: %w", err)
	}

	logg.Info(ctx, "starting saga orchestrator")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("saga orchestrator stopped unexpectedly: %w", err)
	}
	logg.Info(ctx, "saga orchestrator shutting down gracefully")
	return nil
}
