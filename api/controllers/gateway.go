package controllers

import (
	"net/http"

	"github.com/angelmondragon/txnflow/api/responses"
	"github.com/angelmondragon/txnflow/internal/gateway"
)

type gatewayHealth struct {
	Service       string `json:"service"`
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	Subscriptions int    `json:"subscriptions"`
}

type statsSource interface {
	Stats() gateway.Stats
}

func GatewayHealth(hub statsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := hub.Stats()
		responses.WriteJSON(w, http.StatusOK, gatewayHealth{
			Service:       "gateway",
			Status:        "ok",
			Connections:   stats.Connections,
			Subscriptions: stats.Subscriptions,
		})
	}
}
