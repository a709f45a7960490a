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
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/txnflow/api/routes"
	"github.com/angelmondragon/txnflow/internal/gateway"
	"github.com/angelmondragon/txnflow/pkg/config"
	"github.com/angelmondragon/txnflow/pkg/instance"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/metrics"
	"github.com/angelmondragon/txnflow/pkg/pubsub"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "gateway"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		logg.Error(context.Background(), "gateway exited with error", err)
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
	cfg.Service.Kind = "gateway"

	logg := logger.New(logger.Options{
		ServiceName: "gateway",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.GatewaySubscription)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gatewayMetrics := metrics.NewGatewayMetrics(registry)

	hub := gateway.NewHub(logg.Component("hub"), gatewayMetrics)
	wsServer := gateway.NewServer(hub, gateway.ServerOptions{
		SendBuffer:     cfg.Gateway.SendBuffer,
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		PingInterval:   cfg.Gateway.PingInterval,
		MaxMessageSize: cfg.Gateway.MaxMessageSize,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}, logg)

	consumer, err := gateway.NewConsumer(pubsubClient.GatewaySubscription(), hub, gatewayMetrics, logg.Component("consumer"))
	if err != nil {
		return fmt.Errorf("build gateway consumer: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Gateway.Port,
		Handler:           routes.NewGatewayRouter(hub, wsServer, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		logg.Info(logg.WithField(gctx, "addr", srv.Addr), "gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by Shutdown; their
		// read loops end when the process exits.
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gateway stopped unexpectedly: %w", err)
	}
	logg.Info(ctx, "gateway shutting down gracefully")
	return nil
}
