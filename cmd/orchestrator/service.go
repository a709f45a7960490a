package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/txnflow/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

var errConsumerStopped = errors.New("saga consumer stopped")

type runner interface {
	Run(ctx context.Context) error
}

type dependency struct {
	name string
	ping func(context.Context) error
}

type ServiceParams struct {
	Logger        *logger.Logger
	Consumer      runner
	MetricsServer *http.Server
	Dependencies  []dependency
}

// Service runs the saga consumer next to the metrics endpoint until the
// context is cancelled.
type Service struct {
	logg          *logger.Logger
	consumer      runner
	metricsServer *http.Server
	deps          []dependency
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("saga consumer is required")
	}
	return &Service{
		logg:          params.Logger,
		consumer:      params.Consumer,
		metricsServer: params.MetricsServer,
		deps:          params.Dependencies,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := pingDependency(ctx, s.logg, dep.name, dep.ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all orchestrator dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.consumer.Run(gctx)
		if err == nil && gctx.Err() == nil {
			return errConsumerStopped
		}
		return err
	})

	if s.metricsServer != nil {
		g.Go(func() error {
			s.logg.Info(s.logg.WithField(gctx, "addr", s.metricsServer.Addr), "metrics server listening")
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return s.metricsServer.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "orchestrator stopped unexpectedly", err)
	}
	return err
}
