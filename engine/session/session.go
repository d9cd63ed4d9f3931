// Package session keeps per-conversation state: the selected backend mode
// and a bounded history of recent turns.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// DefaultHistoryTurns is how many turns a session remembers.
const DefaultHistoryTurns = 3

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session: not found")

// History is a bounded FIFO of turns. The zero value holds
// DefaultHistoryTurns turns. It is not safe for concurrent use.
type History struct {
	limit int
	turns []domain.Turn
}

// NewHistory returns a history keeping the last limit turns. limit <= 0
// uses DefaultHistoryTurns.
func NewHistory(limit int, turns ...domain.Turn) *History {
	h := &History{limit: limit}
	for _, t := range turns {
		h.Add(t)
	}
	return h
}

// Cap is the number of turns retained.
func (h *History) Cap() int {
	if h.limit <= 0 {
		return DefaultHistoryTurns
	}
	return h.limit
}

// Add appends a turn, evicting the oldest beyond Cap.
func (h *History) Add(t domain.Turn) {
	h.turns = append(h.turns, t)
	if over := len(h.turns) - h.Cap(); over > 0 {
		h.turns = append(h.turns[:0:0], h.turns[over:]...)
	}
}

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []domain.Turn {
	out := make([]domain.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of retained turns.
func (h *History) Len() int { return len(h.turns) }

// Clear drops every turn.
func (h *History) Clear() { h.turns = nil }

// Session is one conversation.
type Session struct {
	ID      string        `json:"session_id"`
	Mode    string        `json:"mode"`
	Turns   []domain.Turn `json:"history"`
	Created time.Time     `json:"created_at"`
	Updated time.Time     `json:"updated_at"`
}

// New creates a session with a random ID.
func New(mode string) *Session {
	now := time.Now().UTC()
	return &Session{ID: uuid.NewString(), Mode: mode, Turns: []domain.Turn{}, Created: now, Updated: now}
}

// Record appends a turn, keeping at most limit.
func (s *Session) Record(t domain.Turn, limit int) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	h := NewHistory(limit, s.Turns...)
	h.Add(t)
	s.Turns = h.Turns()
	s.Updated = t.At
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, mode string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	// Append records a turn and returns the updated session.
	Append(ctx context.Context, id string, t domain.Turn) (*Session, error)
	SetMode(ctx context.Context, id, mode string) error
	ClearHistory(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
