// Package api exposes the conversation surface over HTTP: JSON
// endpoints for conversation management and archived records, and an
// SSE endpoint delivering live turn output.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pennaio/penna/internal/archive"
	"github.com/pennaio/penna/internal/conversation"
	"github.com/pennaio/penna/internal/turn"
)

// ServerConfig carries the server's dependencies.
type ServerConfig struct {
	Logger       *slog.Logger
	Registry     *conversation.Registry // required
	Controller   *turn.Controller       // required
	ArchiveStore *archive.Store         // optional, nil disables archive routes
	Pool         *pgxpool.Pool          // optional, nil disables pool check in /readyz
}

// Server is the HTTP server wrapping the conversation surface.
type Server struct {
	handler http.Handler
}

// NewServer builds the route table and middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("conversation registry is required")
	}
	if cfg.Controller == nil {
		return nil, errors.New("turn controller is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		registry: cfg.Registry,
		turns:    cfg.Controller,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/conversations", ch.create)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", ch.messages)
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", ch.send)

	if cfg.ArchiveStore != nil {
		ah := &archiveHandler{store: cfg.ArchiveStore, logger: logger}
		mux.HandleFunc("GET /api/v1/archive", ah.list)
		mux.HandleFunc("GET /api/v1/archive/{id}", ah.get)
		mux.HandleFunc("DELETE /api/v1/archive/{id}", ah.remove)
	}

	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	top := http.NewServeMux()
	top.HandleFunc("GET /healthz", health)
	top.Handle("GET /readyz", readiness(cfg.Pool))
	top.Handle("/", handler)

	return &Server{handler: top}, nil
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
