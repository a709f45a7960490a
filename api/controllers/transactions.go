package controllers

import (
	"net/http"

	"github.com/angelmondragon/txnflow/api/responses"
	"github.com/angelmondragon/txnflow/api/validators"
	"github.com/angelmondragon/txnflow/internal/transactions"
	"github.com/angelmondragon/txnflow/pkg/events"
	"github.com/angelmondragon/txnflow/pkg/logger"
)

type submitTransactionRequest struct {
	From     string        `json:"from" validate:"required,max=128"`
	To       string        `json:"to" validate:"required,max=128"`
	Amount   events.Amount `json:"amount"`
	Currency string        `json:"currency" validate:"required,alpha,len=3"`
	UserID   string        `json:"userId" validate:"required,max=128"`
}

// SubmitTransaction accepts a transfer request and answers 202 once the
// initiating command is on the bus.
func SubmitTransaction(svc transactions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitTransactionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Submit(r.Context(), transactions.SubmitInput{
			From:     validators.SanitizeString(req.From, 128),
			To:       validators.SanitizeString(req.To, 128),
			Amount:   req.Amount,
			Currency: validators.SanitizeString(req.Currency, 8),
			UserID:   validators.SanitizeString(req.UserID, 128),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusAccepted, result)
	}
}
