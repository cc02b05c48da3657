package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"parley/internal/app/server/handlers"
	"parley/internal/config"
	"parley/internal/core/services"
	"parley/pkg/middleware"
)

type Server struct {
	mux           *http.ServeMux
	addr          string
	name          string
	log           *slog.Logger
	authHandler   *handlers.AuthHandler
	wsHandler     *handlers.WSHandler
	statusHandler *handlers.StatusHandler
	tokenSvc      *services.TokenService
}

func NewServer(
	log *slog.Logger,
	name string,
	addr string,
	tokenSvc *services.TokenService,
	managerSvc services.IManagerService,
	session *config.SessionConfig,
) *Server {
	// A socket may stay silent for a full probe cycle before the monitor
	// gives up on it; the transport deadline sits one interval past that.
	readTimeout := session.HeartbeatTimeout + session.HeartbeatInterval

	s := &Server{
		mux:           http.NewServeMux(),
		addr:          addr,
		name:          name,
		log:           log,
		authHandler:   handlers.NewAuthHandler(tokenSvc),
		wsHandler:     handlers.NewWSHandler(managerSvc, readTimeout),
		statusHandler: handlers.NewStatusHandler(managerSvc),
		tokenSvc:      tokenSvc,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	auth := middleware.AuthMiddleware(s.tokenSvc)

	// Public
	s.mux.HandleFunc("POST /auth/token", s.authHandler.IssueToken)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Protected. The middleware extracts the 'sub' (client id) from the
	// JWT and puts it in context.
	s.mux.Handle("/ws", auth(http.HandlerFunc(s.wsHandler.Handler)))
	s.mux.Handle("GET /status", auth(http.HandlerFunc(s.statusHandler.Overview)))
}

// Start serves until the context ends, then drains with a grace period.
func (s *Server) Start(ctx context.Context) error {
	handler := middleware.TracerMiddleware(s.name)(middleware.RequestLogger(s.log)(s.mux))

	server := &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server - start - listening", "addr", s.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
