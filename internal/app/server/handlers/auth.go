package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"parley/internal/core/services"
	"parley/pkg/middleware"
)

type AuthHandler struct {
	tokenSvc *services.TokenService
}

func NewAuthHandler(t *services.TokenService) *AuthHandler {
	return &AuthHandler{tokenSvc: t}
}

// IssueToken mints a session token. Clients that come without an id get a
// fresh one assigned.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	log, _ := r.Context().Value(middleware.LoggerKey).(*slog.Logger)
	if log == nil {
		log = slog.Default()
	}
	var req struct {
		ClientID string `json:"client_id"`
	}
	if r.Body != nil {
		// An empty body is fine, it just means "assign me an id".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	token, err := h.tokenSvc.GenerateToken(clientID)
	if err != nil {
		log.ErrorContext(r.Context(), "auth handler - generate token failed", "client_id", clientID)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":     token,
		"client_id": clientID,
	})
	log.InfoContext(r.Context(), "auth handler - token issued", "client_id", clientID)
}
