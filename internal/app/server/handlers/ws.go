package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"parley/internal/app/server/ws"
	"parley/internal/core/domain"
	"parley/internal/core/services"
	"parley/pkg/middleware"
)

type WSHandler struct {
	manager services.IManagerService
	// Transport-level silence bound. Sits past the probe cycle so the
	// heartbeat monitor, not the socket, decides a session's fate.
	readTimeout time.Duration
}

func NewWSHandler(manager services.IManagerService, readTimeout time.Duration) *WSHandler {
	return &WSHandler{
		manager:     manager,
		readTimeout: readTimeout,
	}
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log, _ := r.Context().Value(middleware.LoggerKey).(*slog.Logger)
	if log == nil {
		log = slog.Default()
	}
	span := trace.SpanFromContext(r.Context())

	clientID, ok := r.Context().Value(middleware.ClientIDKey).(string)
	if !ok || clientID == "" {
		log.ErrorContext(r.Context(), "ws handler - unauthorised missing client_id")
		http.Error(w, "Unauthorized: client id missing", http.StatusUnauthorized)
		return
	}
	span.SetAttributes(attribute.String("client.id", clientID))

	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // tighten later
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade failed", "client_id", clientID, "err", err)
		return
	}

	// The request context dies with the handler; the session must not.
	sessionCtx := context.WithoutCancel(r.Context())
	channel := ws.NewConn(sessionCtx, conn, log, s.readTimeout)
	channel.Open()

	client := domain.ClientData{ID: clientID, RemoteAddr: r.RemoteAddr}
	if err := s.manager.AddConnection(sessionCtx, channel, client); err != nil {
		log.ErrorContext(r.Context(), "ws handler - add connection rejected", "client_id", clientID, "err", err)
		_ = channel.Close("not accepted")
		return
	}
	// Keyed by channel so a connection superseded by a reconnect cannot
	// tear down the client's fresh session on its way out.
	defer s.manager.RemoveConnection(sessionCtx, channel.ID())

	log.InfoContext(r.Context(), "ws handler - connection established",
		"client_id", clientID, "channel_id", channel.ID(), "remote_addr", r.RemoteAddr)

	// Frames are handled in arrival order; slow work is detached inside
	// the manager.
	channel.ReadLoop(func(data []byte) {
		s.manager.HandleInbound(sessionCtx, clientID, data)
	})
}
