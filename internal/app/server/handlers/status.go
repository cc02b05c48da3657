package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"parley/internal/core/services"
)

type StatusHandler struct {
	manager services.IManagerService
}

func NewStatusHandler(manager services.IManagerService) *StatusHandler {
	return &StatusHandler{manager: manager}
}

type sessionView struct {
	ClientID     string    `json:"client_id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	Liveness     string    `json:"liveness"`
	Messages     int64     `json:"messages"`
	Images       int64     `json:"images"`
}

// Overview reports the live sessions for operators.
func (h *StatusHandler) Overview(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.Sessions()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ClientID:     s.ID,
			RemoteAddr:   s.RemoteAddr,
			ConnectedAt:  s.ConnectedAt,
			LastActivity: s.LastActivity,
			Liveness:     string(s.Liveness),
			Messages:     s.MessageCount,
			Images:       s.ImageCount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"active_sessions": len(views),
		"sessions":        views,
	})
}
