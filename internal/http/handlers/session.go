package handlers

import (
	"net/http"

	"github.com/moneybridge/server/internal/auth"
	"github.com/moneybridge/server/internal/flow"
	"github.com/moneybridge/server/internal/middleware"
)

// SessionHandler owns session creation and the wizard's generic endpoints.
type SessionHandler struct {
	jwtService *auth.JWTService
	manager    *flow.Manager
}

func NewSessionHandler(jwtService *auth.JWTService, manager *flow.Manager) *SessionHandler {
	return &SessionHandler{jwtService: jwtService, manager: manager}
}

// Create starts a wizard session and returns its bearer token.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, machine := h.manager.Create()
	token, err := h.jwtService.SignSessionToken(id, "")
	if err != nil {
		h.manager.Remove(id)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"token": token,
		"state": machine.Snapshot(),
	})
}

// State returns the session's current wizard snapshot.
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// ChooseRole forks the wizard into the buyer or seller branch.
func (h *SessionHandler) ChooseRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	machine := middleware.GetMachine(r.Context())
	if err := machine.ChooseRole(r.Context(), flow.Role(req.Role)); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// Cancel aborts an in-progress transaction and returns to role selection.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	if err := machine.Cancel(r.Context()); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// Reset returns the wizard to role selection from any step.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	machine.Reset()
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}
