package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and the redis-less API
// mode. Expired sessions are pruned lazily on read.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	nowFn    func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	if s.ID == "" || s.UserID == "" {
		return errors.New("session id and user id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Expired(m.nowFn()) {
		delete(m.sessions, id)
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	var out []Session
	for id, s := range m.sessions {
		if s.UserID != userID {
			continue
		}
		if s.Expired(now) {
			delete(m.sessions, id)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) DeleteAllExcept(_ context.Context, userID, keepID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.UserID != userID || id == keepID {
			continue
		}
		delete(m.sessions, id)
		removed++
	}
	return removed, nil
}
