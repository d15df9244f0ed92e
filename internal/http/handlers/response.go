package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/moneybridge/server/internal/flow"
	"github.com/moneybridge/server/internal/store"
)

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("handlers: encode response: %v", err)
		}
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}

// respondWithFlowError maps machine errors onto HTTP statuses: step guards
// and store conflicts are 409, bad input is 400, everything else is a 500.
func respondWithFlowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, flow.ErrInvalidStep):
		respondWithError(w, http.StatusConflict, "action not available in the current step")
	case errors.Is(err, flow.ErrPriceNotSet):
		respondWithError(w, http.StatusConflict, "seller has not set a price yet")
	case errors.Is(err, store.ErrConflict):
		respondWithError(w, http.StatusConflict, "request is no longer pending")
	case errors.Is(err, store.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, flow.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("handlers: internal error: %v", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
