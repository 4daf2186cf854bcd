package jwt

import (
	"net/http"

	json "github.com/goccy/go-json"
)

type authFailure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// AuthMiddlewareFunc validates tokens and injects claims into the request context. Used for HTTP routes.
func AuthMiddlewareFunc(mgr *Manager) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ident, claims, err := mgr.Authenticate(r)
			if err != nil {
				writeAuthFailure(w, http.StatusUnauthorized, "invalid or expired token", err)
				return
			}

			ctx := InjectClaims(r.Context(), claims, ident)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireClaims extracts JWT claims from the request context.
func RequireClaims(r *http.Request) *Claims {
	c, _ := FromContext(r.Context())
	return c
}

func writeAuthFailure(w http.ResponseWriter, status int, msg string, err error) {
	body, _ := json.Marshal(authFailure{Success: false, Message: msg, Error: err.Error()})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="fleet-tracking"`)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
