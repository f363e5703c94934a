package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"coursegen/pkg/model"
	"coursegen/pkg/store"
)

const (
	maxModules          = 20
	maxLessonsPerModule = 20
	wsWriteTimeout      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local tool; the UI may be served from another port.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var spec model.CurriculumSpec
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	spec.Subject = strings.TrimSpace(spec.Subject)
	switch {
	case spec.Subject == "":
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	case spec.ModuleCount > maxModules || spec.LessonsPerModule > maxLessonsPerModule:
		writeError(w, http.StatusBadRequest, "too many modules or lessons")
		return
	}

	id := s.Runs.Start(spec)
	slog.Info("Course run started via API", "run", id, "subject", spec.Subject)
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": id})
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Runs.List())
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	st, ok := s.Runs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Runs.Cancel(id) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	slog.Info("Course run cancellation requested", "run", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleRunWS streams a run's progress events, starting with the latest one.
// The socket is closed after the run ends.
func (s *server) handleRunWS(w http.ResponseWriter, r *http.Request) {
	events, last, unsubscribe, ok := s.Runs.Subscribe(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev model.ProgressEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}

	if last.RunID != "" {
		if err := send(last); err != nil {
			return
		}
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := send(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Store.Get(r.Context(), store.TableCourses, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load course", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load course")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListLessons returns the persisted lessons of a course in lesson
// order, including those of runs that failed later.
func (s *server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Store.List(r.Context(), store.TableLessons, map[string]any{"courseId": chi.URLParam(r, "id")})
	if err != nil {
		slog.Error("Failed to list lessons", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list lessons")
		return
	}
	lessons := make([]model.Lesson, 0, len(recs))
	for _, rec := range recs {
		var l model.Lesson
		if err := store.Decode(rec, &l); err != nil {
			slog.Warn("Skipping undecodable lesson record", "id", rec.ID(), "error", err)
			continue
		}
		lessons = append(lessons, l)
	}
	writeJSON(w, http.StatusOK, lessons)
}
