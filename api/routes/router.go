package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/txnflow/api/controllers"
	"github.com/angelmondragon/txnflow/api/middleware"
	"github.com/angelmondragon/txnflow/internal/deadletter"
	"github.com/angelmondragon/txnflow/internal/transactions"
	"github.com/angelmondragon/txnflow/pkg/config"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/redis"
)

// NewRouter builds the command ingress. limiter and idem may be nil when Redis
// is not configured; deadLetters may be nil when no archive database is set.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	transactionService transactions.Service,
	deadLetterService deadletter.Service,
	limiter redis.RateLimiter,
	idem redis.IdempotencyStore,
	checks ...controllers.ReadinessCheck,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Gateway.AllowedOrigins),
	)

	submitPolicy := middleware.NewRateLimitPolicy(
		"submit",
		cfg.RateLimit.Window,
		cfg.RateLimit.Limit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, checks...))
	})

	r.Get("/api/public/ping", controllers.Ping("ingress"))

	submit := controllers.SubmitTransaction(transactionService, logg)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(submitPolicy, limiter, logg))
		r.Use(middleware.Idempotency(idem, logg))
		r.Post("/transactions", submit)
		r.Post("/api/v1/transactions", submit)
	})

	if deadLetterService != nil {
		r.Get("/api/v1/dead-letters", controllers.ListDeadLetters(deadLetterService, logg))
	}

	return r
}
