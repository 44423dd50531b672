// Package api exposes the HTTP surface of the assistant.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sagehq/sage/internal/pipeline"
	"github.com/sagehq/sage/internal/prompt"
	"github.com/sagehq/sage/internal/store"
	"github.com/sagehq/sage/internal/transcribe"
)

type Server struct {
	router      *chi.Mux
	port        int
	apiKey      string
	pipe        *pipeline.Pipeline
	transcriber *transcribe.Client
	store       *store.Store
	logger      *slog.Logger
}

// NewServer wires the routes. transcriber and st may be nil when the matching
// collaborator is unconfigured; the affected endpoints then answer 503.
func NewServer(port int, apiKey string, pipe *pipeline.Pipeline, transcriber *transcribe.Client, st *store.Store, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:      router,
		port:        port,
		apiKey:      apiKey,
		pipe:        pipe,
		transcriber: transcriber,
		store:       st,
		logger:      logger,
	}

	router.Get("/health", s.health)

	router.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/explain", s.generate(prompt.TaskExplain))
		r.Post("/debug", s.generate(prompt.TaskDebug))
		r.Post("/optimize", s.generate(prompt.TaskOptimize))
		r.Post("/diagram", s.diagram)
		r.Post("/voice-command", s.voiceCommand)
		r.Get("/history", s.listHistory)
		r.Delete("/history/deleteall", s.deleteAllHistory)
		r.Delete("/history/{id}", s.deleteHistory)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// requireAPIKey enforces the shared-secret header. Missing and wrong secrets
// are indistinguishable to the caller. An empty configured key disables the
// check (local development).
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			got := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "access denied")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
