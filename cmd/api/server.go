package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/rag"
	"github.com/askgeorge/askgeorge/engine/session"
	"github.com/askgeorge/askgeorge/pkg/metrics"
	"github.com/askgeorge/askgeorge/pkg/mid"
)

// emptyQuestionAnswer is the body answered for a blank question.
const emptyQuestionAnswer = "Please ask a question."

// answerer is the part of rag.Service the handlers use.
type answerer interface {
	Ask(ctx context.Context, req rag.Request) (*rag.Answer, error)
	DefaultMode() string
}

type server struct {
	answers   answerer
	sessions  session.Store
	validMode func(string) bool // nil accepts every mode
	modes     []string          // served modes, reported by /api/health
	rerank    bool              // default for requests that omit rerank
	publish   func(context.Context, TurnEvent)
	logger    *slog.Logger
}

func (s *server) routes(reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /api/sessions/{id}/mode", s.handleSetMode)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/sessions/{id}/history", s.handleClearHistory)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}
	return mux
}

// --- Handlers ---

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string   `json:"status"`
	DefaultMode string   `json:"default_mode"`
	Modes       []string `json:"modes,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	mid.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", DefaultMode: s.answers.DefaultMode(), Modes: s.modes})
}

// SessionRequest is the JSON body for POST /api/sessions and
// PUT /api/sessions/{id}/mode.
type SessionRequest struct {
	Mode string `json:"mode"`
}

// SessionResponse identifies a session.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, ok := s.mode(req.Mode)
	if !ok {
		mid.WriteError(w, http.StatusBadRequest, "unknown mode "+req.Mode)
		return
	}
	sess, err := s.sessions.Create(r.Context(), mode)
	if err != nil {
		s.internalError(w, "create session", err)
		return
	}
	mid.WriteJSON(w, http.StatusCreated, SessionResponse{SessionID: sess.ID, Mode: sess.Mode})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	mid.WriteJSON(w, http.StatusOK, SessionResponse{SessionID: sess.ID, Mode: sess.Mode})
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.sessionError(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		mid.WriteError(w, http.StatusBadRequest, "mode is required")
		return
	}
	mode, ok := s.mode(req.Mode)
	if !ok {
		mid.WriteError(w, http.StatusBadRequest, "unknown mode "+req.Mode)
		return
	}
	id := r.PathValue("id")
	if err := s.sessions.SetMode(r.Context(), id, mode); err != nil {
		s.sessionError(w, "set mode", err)
		return
	}
	mid.WriteJSON(w, http.StatusOK, SessionResponse{SessionID: id, Mode: mode})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	mid.WriteJSON(w, http.StatusOK, sess)
}

func (s *server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.ClearHistory(r.Context(), r.PathValue("id")); err != nil {
		s.sessionError(w, "clear history", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
	TopK      int    `json:"top_k,omitempty"`
	Rerank    *bool  `json:"rerank,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	*rag.Answer
	SessionID string `json:"session_id,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		mid.WriteJSON(w, http.StatusBadRequest, map[string]string{"answer": emptyQuestionAnswer, "question": ""})
		return
	}

	ask := rag.Request{Question: req.Question, TopK: req.TopK, Rerank: s.rerank, Mode: req.Mode}
	if req.Rerank != nil {
		ask.Rerank = *req.Rerank
	}
	if req.SessionID != "" {
		sess, err := s.sessions.Get(r.Context(), req.SessionID)
		if err != nil {
			s.sessionError(w, "load session", err)
			return
		}
		if ask.Mode == "" {
			ask.Mode = sess.Mode
		}
		ask.History = sess.Turns
	}
	if ask.Mode != "" {
		if _, ok := s.mode(ask.Mode); !ok {
			mid.WriteError(w, http.StatusBadRequest, "unknown mode "+ask.Mode)
			return
		}
	}

	answer, err := s.answers.Ask(r.Context(), ask)
	switch {
	case errors.Is(err, domain.ErrEmptyQuestion):
		mid.WriteJSON(w, http.StatusBadRequest, map[string]string{"answer": emptyQuestionAnswer, "question": ""})
		return
	case errors.Is(err, domain.ErrQuestionTooLong):
		mid.WriteError(w, http.StatusBadRequest, "question is too long")
		return
	case err != nil:
		s.internalError(w, "answer question", err)
		return
	}

	turn := domain.Turn{Question: answer.Question, Answer: answer.Text, At: time.Now().UTC()}
	if req.SessionID != "" {
		if _, err := s.sessions.Append(r.Context(), req.SessionID, turn); err != nil {
			s.logger.Warn("record turn", "session_id", req.SessionID, "err", err)
		}
	}
	if s.publish != nil {
		s.publish(r.Context(), TurnEvent{
			SessionID: req.SessionID,
			Question:  answer.Question,
			Answer:    answer.Text,
			Label:     answer.Label,
			Mode:      answer.Mode,
			At:        turn.At,
		})
	}
	mid.WriteJSON(w, http.StatusOK, ChatResponse{Answer: answer, SessionID: req.SessionID})
}

// --- Helpers ---

// mode resolves an empty mode to the default and checks the rest.
func (s *server) mode(m string) (string, bool) {
	m = strings.ToLower(strings.TrimSpace(m))
	if m == "" {
		return s.answers.DefaultMode(), true
	}
	if s.validMode != nil && !s.validMode(m) {
		return "", false
	}
	return m, true
}

func (s *server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sessionError(w, "load session", err)
		return nil, false
	}
	return sess, true
}

func (s *server) sessionError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, session.ErrNotFound) {
		mid.WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	s.internalError(w, op, err)
}

func (s *server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "err", err)
	mid.WriteError(w, http.StatusInternalServerError, "internal server error")
}
