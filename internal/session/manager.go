package session

import (
	"context"
	"time"

	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/logging"
)

// mutateAttempts bounds the re-read-and-reapply loop on version conflicts.
// Contention on a single session is a handful of horizontally scaled
// request handlers at most, so a small budget is enough.
const mutateAttempts = 3

// Manager provides session-level operations on top of a Store: lifecycle
// (load-or-create, expiry cleanup), message appends, and a guarded
// read-modify-write primitive used by the task graph layer.
type Manager struct {
	store  Store
	logger *logging.Logger
	ttl    time.Duration
}

// NewManager creates a session Manager.
// A zero ttl falls back to the 24-hour default.
func NewManager(store Store, logger *logging.Logger, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		store:  store,
		logger: logger,
		ttl:    ttl,
	}
}

// LoadOrCreate returns the most-recently-active non-expired session for
// (userID, projectID), refreshing its activity timestamp, or creates a new
// session with a fresh expiry window when none exists.
func (m *Manager) LoadOrCreate(ctx context.Context, userID, projectID string) (*Session, error) {
	existing, err := m.store.FindActive(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.LastActive = time.Now()
		if err := m.store.Update(ctx, existing); err != nil {
			// A conflicting writer refreshed it first; their copy is as
			// good as ours.
			if errors.Is(err, errors.ErrVersionConflict) {
				return m.store.Get(ctx, existing.ID)
			}
			return nil, err
		}
		return existing, nil
	}

	sess := New(userID, projectID, m.ttl)
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.WithSession(sess.ID).Info("session created",
		"user_id", userID,
		"project_id", projectID,
		"expires_at", sess.ExpiresAt,
	)
	return sess, nil
}

// Get retrieves a session by ID.
// Returns a NotFound error if the id is unknown; callers must treat that as
// fatal to the current operation.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.Get(ctx, sessionID)
}

// Save persists the caller's session snapshot. A version conflict is
// returned as-is: the caller holds mutations the store has not seen and must
// decide how to reconcile.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	s.Touch()
	return m.store.Update(ctx, s)
}

// Mutate runs fn against a fresh read of the session and persists the
// result, retrying a bounded number of times when a concurrent writer wins
// the version race. fn must be idempotent; it may run more than once.
func (m *Manager) Mutate(ctx context.Context, sessionID string, fn func(*Session) error) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < mutateAttempts; attempt++ {
		sess, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		if err := fn(sess); err != nil {
			return nil, err
		}

		sess.Touch()
		if err := m.store.Update(ctx, sess); err != nil {
			if errors.Is(err, errors.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return sess, nil
	}

	m.logger.WithSession(sessionID).Warn("session mutation lost version race repeatedly",
		"attempts", mutateAttempts,
	)
	return nil, lastErr
}

// AddMessage appends a message to the conversation history and refreshes the
// derived fields (message count, last message, last active).
func (m *Manager) AddMessage(ctx context.Context, sessionID string, role Role, content string) error {
	_, err := m.Mutate(ctx, sessionID, func(s *Session) error {
		s.ConversationHistory = append(s.ConversationHistory, Message{
			Role:      role,
			Content:   content,
			Timestamp: time.Now(),
		})
		return nil
	})
	return err
}

// UpdateStatus sets the session lifecycle status.
func (m *Manager) UpdateStatus(ctx context.Context, sessionID string, status Status) error {
	_, err := m.Mutate(ctx, sessionID, func(s *Session) error {
		s.Status = status
		return nil
	})
	return err
}

// ListExpired returns the IDs of sessions whose expiry window has elapsed.
func (m *Manager) ListExpired(ctx context.Context) ([]string, error) {
	return m.store.ListExpired(ctx, time.Now())
}

// CleanupExpired deletes every session whose expiry window has elapsed and
// returns the number removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := m.store.ListExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.WithSession(id).Warn("failed to delete expired session", "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		m.logger.Info("expired sessions cleaned", "count", count)
	}
	return count, nil
}

// TTL returns the expiry window applied to new sessions.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
