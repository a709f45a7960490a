package controllers

import (
	"net/http"

	"github.com/angelmondragon/txnflow/api/responses"
	"github.com/angelmondragon/txnflow/api/validators"
	"github.com/angelmondragon/txnflow/internal/deadletter"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/angelmondragon/txnflow/pkg/pagination"
)

func ListDeadLetters(svc deadletter.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := validators.NewQuery(r)
		listQuery := deadletter.ListQuery{
			TransactionID: query.String("transactionId", 128),
			Limit:         query.Int("limit", pagination.DefaultLimit, 1, pagination.MaxLimit),
			Cursor:        query.String("cursor", 256),
		}
		if err := query.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), listQuery)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
