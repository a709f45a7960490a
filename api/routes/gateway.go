package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/txnflow/api/controllers"
	"github.com/angelmondragon/txnflow/api/middleware"
	"github.com/angelmondragon/txnflow/internal/gateway"
	"github.com/angelmondragon/txnflow/pkg/logger"
)

// NewGatewayRouter exposes the push channel, its health and the metrics scrape.
// The access log is skipped on /ws because the connection outlives the request.
func NewGatewayRouter(hub *gateway.Hub, ws http.Handler, metrics http.Handler, logg *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
	)

	r.Handle("/ws", ws)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Logging(logg))
		r.Get("/health", controllers.GatewayHealth(hub))
		if metrics != nil {
			r.Handle("/metrics", metrics)
		}
	})
	return r
}
