package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/forgehq/forge/internal/errors"
)

// memoryStore implements Store using an in-memory map with optimistic
// locking. Used in tests and single-process runs; it mirrors the Redis
// driver's semantics exactly, including value isolation (callers never share
// a pointer with the store).
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]*Session),
	}
}

// clone deep-copies a session through its JSON form, the same representation
// the Redis driver round-trips.
func clone(s *Session) *Session {
	b, err := json.Marshal(s)
	if err != nil {
		// Session contains only JSON-serializable fields.
		panic(err)
	}
	var out Session
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return &out
}

// Create implements Store.
func (m *memoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.Version = 1
	m.sessions[s.ID] = clone(s)
	return nil
}

// Get implements Store.
func (m *memoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.sessions[id]
	if !ok {
		return nil, errors.NewNotFoundError("session", id).WithCause(errors.ErrSessionNotFound)
	}
	return clone(stored), nil
}

// Update implements Store.
func (m *memoryStore) Update(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.sessions[s.ID]
	if !ok {
		return errors.NewNotFoundError("session", s.ID).WithCause(errors.ErrSessionNotFound)
	}
	if stored.Version != s.Version {
		return errors.Wrapf(errors.ErrVersionConflict, "session %s: have %d, stored %d",
			s.ID, s.Version, stored.Version)
	}

	s.Version++
	m.sessions[s.ID] = clone(s)
	return nil
}

// Delete implements Store.
func (m *memoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// FindActive implements Store.
func (m *memoryStore) FindActive(ctx context.Context, userID, projectID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var best *Session
	for _, s := range m.sessions {
		if s.UserID != userID || s.ProjectID != projectID {
			continue
		}
		if s.Status != StatusActive || s.IsExpired(now) {
			continue
		}
		if best == nil || s.LastActive.After(best.LastActive) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

// ListExpired implements Store.
func (m *memoryStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close implements Store.
func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = nil
	return nil
}
