package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/moneybridge/server/internal/auth"
	"github.com/moneybridge/server/internal/flow"
)

type contextKey string

const machineKey contextKey = "flow_machine"

// Session resolves the bearer token to a live wizard machine and puts it on
// the request context. Requests with no valid token or an expired session
// get 401.
func Session(jwtService *auth.JWTService, manager *flow.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			sessionID, err := jwtService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			machine, ok := manager.Get(sessionID)
			if !ok {
				unauthorized(w, "session expired")
				return
			}
			ctx := context.WithValue(r.Context(), machineKey, machine)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetMachine returns the machine the Session middleware attached, or nil.
func GetMachine(ctx context.Context) *flow.Machine {
	m, _ := ctx.Value(machineKey).(*flow.Machine)
	return m
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
