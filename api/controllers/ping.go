package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/txnflow/api/responses"
)

// Ping answers unauthenticated reachability checks with the serving process name.
func Ping(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]any{
			"service": service,
			"status":  "ok",
			"ts":      time.Now().UnixMilli(),
		})
	}
}
