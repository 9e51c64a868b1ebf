// Package api serves the poll API over the task's flow state, plus
// health and Prometheus endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestige.xyz/pandit/internal/config"
	"firestige.xyz/pandit/internal/flow"
	"firestige.xyz/pandit/internal/task"
)

// TaskView is the read-only task surface the API needs.
type TaskView interface {
	Cache() *flow.Cache
	Store() *flow.Store
	GetStatus() task.Status
	Stats() task.Stats
}

// Server is the HTTP server for the poll API and metrics.
type Server struct {
	addr   string
	router *mux.Router
	server *http.Server
}

// NewServer creates a server bound to cfg.Listen.
func NewServer(cfg config.APIConfig, view TaskView) *Server {
	path := cfg.MetricsPath
	if path == "" {
		path = "/metrics"
	}

	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler(view)).Methods(http.MethodGet)
	NewHandlers(view).RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())

	return &Server{addr: cfg.Listen, router: router}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	slog.Info("starting api server", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	slog.Info("api server stopped")
	return nil
}

func healthHandler(view TaskView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := view.GetStatus()
		code := http.StatusOK
		if st.State == task.StateFailed {
			code = http.StatusServiceUnavailable
		}
		respondWithJSON(w, code, map[string]any{
			"status": st.State,
			"task":   st.ID,
			"reason": st.FailureReason,
		})
	}
}
