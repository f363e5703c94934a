package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"coursegen/pkg/content"
	"coursegen/pkg/conversation"
	"coursegen/pkg/llm/failover"
	"coursegen/pkg/model"
	"coursegen/pkg/store"
)

const chatContextChars = 4000

// ChatRequest asks a question, optionally about a stored lesson.
type ChatRequest struct {
	Question string `json:"question"`
	LessonID string `json:"lessonId,omitempty"`
	Context  string `json:"context,omitempty"`
	// SessionID groups follow-up questions into one conversation.
	SessionID string `json:"sessionId,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	lessonContext := req.Context
	if req.LessonID != "" {
		rec, err := s.Store.Get(r.Context(), store.TableLessons, req.LessonID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lesson not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load lesson")
			return
		}
		var l model.Lesson
		if err := store.Decode(rec, &l); err == nil {
			lessonContext = l.Title + "\n\n" + content.PlainText(l.Contents, chatContextChars)
		}
	}

	var hist *conversation.History
	if req.SessionID != "" && s.Conversations != nil {
		hist = s.Conversations.Get(req.SessionID)
		if t := hist.Transcript(); t != "" {
			lessonContext = strings.TrimSpace(lessonContext + "\n\n" + t)
		}
	}

	answer, err := s.Chat.Ask(r.Context(), req.Question, lessonContext)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		var ex *failover.ExhaustedError
		status := http.StatusInternalServerError
		if errors.As(err, &ex) {
			status = http.StatusBadGateway
		}
		slog.Warn("Chat request failed", "error", err)
		writeError(w, status, err.Error())
		return
	}
	if hist != nil {
		hist.Add(req.Question, answer)
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}
