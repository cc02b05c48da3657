package middleware

import (
	"context"
	"net/http"
	"strings"

	"parley/internal/core/services"
)

type contextKey string

const ClientIDKey contextKey = "client_id"

func AuthMiddleware(tokenSvc *services.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract Bearer token. Browsers cannot set headers on a
			// websocket dial, so a token query parameter works too.
			var raw string
			authHeader := r.Header.Get("Authorization")
			switch {
			case authHeader != "":
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
					return
				}
				raw = parts[1]
			case r.URL.Query().Get("token") != "":
				raw = r.URL.Query().Get("token")
			default:
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			clientID, err := tokenSvc.ValidateToken(raw)
			if err != nil {
				http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
			// Inject the client id into context
			ctx := context.WithValue(r.Context(), ClientIDKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
