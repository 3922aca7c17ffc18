package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/services"
	"github.com/zwehtet-dev/exchange-bot/src/utils"
)

func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	utils.SendJSONError(w, message, statusCode)
}

func sendJSON(w http.ResponseWriter, v any, statusCode int) {
	utils.SendJSON(w, v, statusCode)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return false
	}
	return true
}

// sendServiceError maps domain errors onto HTTP status codes.
func sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		sendJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, database.ErrTerminalStatus):
		sendJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, database.ErrInsufficientFunds):
		sendJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, database.ErrDuplicateAccount):
		sendJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrSessionStep):
		sendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrNoActiveSession):
		sendJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrUnmatchedAccount),
		errors.Is(err, services.ErrAmountMismatch):
		sendJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrRetryExhausted):
		sendJSONError(w, err.Error(), http.StatusBadGateway)
	default:
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}
