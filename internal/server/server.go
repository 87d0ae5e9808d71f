// Package server exposes the serve-mode control API: session status and
// control over JSON endpoints, plus a websocket feed of session events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mesmerkit/mesmerd/internal/config"
	"github.com/mesmerkit/mesmerd/internal/daemon"
	"github.com/mesmerkit/mesmerd/internal/events"
	"github.com/mesmerkit/mesmerd/internal/observability"
)

// Controller is the daemon surface the API drives.
type Controller interface {
	Status() daemon.Status
	StartSession(path string, override time.Duration) error
	PauseSession() error
	ResumeSession() error
	StopSession()
	Events() *events.Bus
}

// Server is the control API HTTP server.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	httpServer *http.Server
	control    Controller
	logger     *slog.Logger
	version    string
}

// New creates the server and mounts its routes.
func New(cfg config.ServerConfig, control Controller, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		router:  chi.NewRouter(),
		control: control,
		logger:  observability.WithComponent(logger, "http_server"),
		version: version,
	}

	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/session", s.handleSessionStatus)
		r.Post("/session/start", s.handleSessionStart)
		r.Post("/session/pause", s.handleSessionPause)
		r.Post("/session/resume", s.handleSessionResume)
		r.Post("/session/stop", s.handleSessionStop)
		r.Get("/events", s.handleEvents)
	})
	return s
}

// Router returns the chi router, for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting control API", slog.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains connections within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)))
	})
}
