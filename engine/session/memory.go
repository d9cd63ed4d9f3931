package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// DefaultMaxSessions bounds a MemoryStore.
const DefaultMaxSessions = 10000

// MemoryStore keeps sessions in process. The least recently used sessions
// are evicted beyond its capacity.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Session]
	turns int
}

// NewMemoryStore creates a store of at most size sessions, each keeping
// turns turns of history.
func NewMemoryStore(size, turns int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	c, err := lru.New[string, *Session](size)
	if err != nil {
		return nil, fmt.Errorf("session: new memory store: %w", err)
	}
	return &MemoryStore{cache: c, turns: turns}, nil
}

func (m *MemoryStore) Create(_ context.Context, mode string) (*Session, error) {
	s := New(mode)
	m.mu.Lock()
	m.cache.Add(s.ID, s)
	m.mu.Unlock()
	return clone(s), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return clone(s), nil
}

func (m *MemoryStore) Append(_ context.Context, id string, t domain.Turn) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	s.Record(t, m.turns)
	return clone(s), nil
}

func (m *MemoryStore) SetMode(_ context.Context, id, mode string) error {
	return m.update(id, func(s *Session) {
		s.Mode = mode
	})
}

func (m *MemoryStore) ClearHistory(_ context.Context, id string) error {
	return m.update(id, func(s *Session) {
		s.Turns = []domain.Turn{}
	})
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cache.Remove(id) {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int { return m.cache.Len() }

func (m *MemoryStore) update(id string, f func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache.Get(id)
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	f(s)
	s.Updated = time.Now().UTC()
	return nil
}

func clone(s *Session) *Session {
	c := *s
	c.Turns = append([]domain.Turn{}, s.Turns...)
	return &c
}
