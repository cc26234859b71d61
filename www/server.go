// Package www serves the operator API: session listing, statistics,
// manual leave and force-complete, plus the ingest websocket.
package www

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"node.town/minutes/db"
	"node.town/minutes/meeting"
	"node.town/minutes/pipeline"
	"node.town/minutes/turns"
)

type Sessions interface {
	Register(ctx context.Context, arg meeting.RegisterParams) (meeting.Session, error)
	Get(ctx context.Context, id string) (meeting.Session, error)
	RequestLeave(ctx context.Context, id string) (bool, error)
	ForceComplete(ctx context.Context, id string) (bool, error)
}

type Queries interface {
	ListSessionsWithTurnCount(ctx context.Context, limit int32) ([]db.ListSessionsWithTurnCountRow, error)
	ListTurnsForSession(ctx context.Context, sessionID string) ([]db.ListTurnsForSessionRow, error)
}

type Agent interface {
	Stats(ctx context.Context, sessionID string) (turns.Stats, error)
	HealthCheck(ctx context.Context) turns.Health
}

type Snapshotter interface {
	Snapshot(sessionID string) (pipeline.Snapshot, bool)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Sessions Sessions
	Queries  Queries
	Agent    Agent
	Pipeline Snapshotter
	Database Pinger
	Ingest   http.Handler
}

type Server struct {
	Router *chi.Mux
	deps   Deps
	log    *log.Logger
}

func NewServer(deps Deps, logger *log.Logger) *Server {
	s := &Server{
		Router: chi.NewRouter(),
		deps:   deps,
		log:    logger,
	}

	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoutes)
	r.Get("/healthz", s.handleHealth)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/stats", s.handleSessionStats)
			r.Get("/turns", s.handleSessionTurns)
			r.Post("/leave", s.handleLeave)
			r.Post("/complete", s.handleForceComplete)
		})
	})
	if deps.Ingest != nil {
		r.Get("/ws/sessions/{id}", deps.Ingest.ServeHTTP)
	}

	return s
}

// Serve listens on port until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
