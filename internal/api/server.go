// Package api exposes the meeting pipeline over HTTP. Handlers translate
// requests and map errors; all policy lives in the pipeline package.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/pipeline"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server wraps the HTTP listener around the orchestrator.
type Server struct {
	cfg    *config.Config
	orch   *pipeline.Orchestrator
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the API server. Logger may be nil.
func NewServer(cfg *config.Config, orch *pipeline.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		cfg:    cfg,
		orch:   orch,
		logger: logging.NewComponentLogger(logger, "api"),
	}
}

// Router assembles the route tree. Everything under /api requires a bearer
// token; /healthz stays open for probes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/join", s.handleJoin)
		r.Post("/leave", s.handleLeave)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/meetings", s.handleMeetings)

		r.Get("/audio/{id}", s.handleAudio)
		r.Get("/data/{id}", s.handleCombined)
		r.Get("/data/{id}/transcript", s.handleTranscript)
		r.Get("/data/{id}/summary", s.handleSummary)

		r.Post("/edit/{id}", s.handleEdit)
		r.Post("/verify", s.handleVerify)
		r.Get("/history/{id}", s.handleHistory)
		r.Get("/revision/{rid}/content", s.handleRevisionContent)
		r.Post("/revert/{id}", s.handleRevert)
		r.Post("/meeting/{id}/checkout", s.handleCheckout)
		r.Delete("/meeting/{id}", s.handleDelete)
		r.Post("/retry/{id}", s.handleRetry)
	})

	return r
}

// Start binds the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Paths.APIBind)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("api listening", logging.String("addr", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr reports the bound address, useful when the config requested port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
