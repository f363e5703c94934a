// Package api serves the course generator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coursegen/pkg/conversation"
	"coursegen/pkg/keys"
	"coursegen/pkg/logging"
	"coursegen/pkg/store"
	"coursegen/pkg/tracker"
	"coursegen/pkg/version"
)

// Asker answers chat questions. *service.Container implements it.
type Asker interface {
	Ask(ctx context.Context, question, lessonContext string) (string, error)
}

// KeyStatuser reports the key pool. *keys.Manager implements it.
type KeyStatuser interface {
	Statuses() []keys.Status
}

// Deps are the components the handlers use.
type Deps struct {
	Runs    *Runs
	Store   store.Store
	Chat    Asker
	Keys    KeyStatuser
	Tracker *tracker.Tracker
	// Conversations enables chat history per sessionId. Nil disables it.
	Conversations *conversation.Store
}

type server struct {
	Deps
	shutdown func()
}

// NewServer creates and configures the HTTP server. shutdown is called by
// POST /api/shutdown.
func NewServer(addr string, d Deps, shutdown func()) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d, shutdown),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: chat answers wait in the queue and websockets stream.
		IdleTimeout: 60 * time.Second,
	}
}

// NewRouter mounts every route.
func NewRouter(d Deps, shutdown func()) http.Handler {
	s := &server{Deps: d, shutdown: shutdown}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", handleHealth)
	r.Get("/api/version", handleVersion)
	r.Get("/api/status", s.handleStatus)
	if d.Tracker != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Tracker.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api/courses", func(r chi.Router) {
		r.Post("/", s.handleCreateCourse)
		r.Get("/{id}", s.handleGetCourse)
		r.Get("/{id}/lessons", s.handleListLessons)
	})
	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Delete("/{id}", s.handleCancelRun)
		r.Get("/{id}/ws", s.handleRunWS)
	})
	r.Get("/api/credentials", s.handleCredentials)
	r.Post("/api/chat", s.handleChat)

	if shutdown != nil {
		r.Post("/api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
			// Let the response flush first
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"version":  version.Version,
		"last_log": logging.LastLine.Get(),
	}
	if s.Tracker != nil {
		resp["backends"] = s.Tracker.Snapshot()
	}
	if s.Runs != nil {
		active := 0
		for _, run := range s.Runs.List() {
			if run.Status == RunRunning {
				active++
			}
		}
		resp["active_runs"] = active
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	statuses := []keys.Status{}
	if s.Keys != nil {
		statuses = s.Keys.Statuses()
	}
	writeJSON(w, http.StatusOK, map[string]any{"gemini": statuses})
}

// requestLogger writes one line per request to the requests log.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.RequestLogger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
