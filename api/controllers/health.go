package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/txnflow/api/responses"
	"github.com/angelmondragon/txnflow/pkg/config"
	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/types"
)

const readinessTimeout = 3 * time.Second

// ReadinessCheck names one dependency pinged by the readiness probe.
type ReadinessCheck struct {
	Name string
	Ping func(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Txnflow-Env", cfg.App.Env)
		responses.WriteSuccess(w, types.HealthReport{Status: "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Txnflow-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := map[string]string{}
		var failed []string
		for _, check := range checks {
			if check.Ping == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{"dependency": check.Name, "error": err.Error()}), "readiness check failed")
				}
				status[check.Name] = "down"
				failed = append(failed, check.Name)
				continue
			}
			status[check.Name] = "ok"
		}

		if len(failed) > 0 {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").
				WithDetails(map[string]any{"failed": failed}))
			return
		}
		responses.WriteSuccess(w, types.HealthReport{Status: "ready", Checks: status})
	}
}
