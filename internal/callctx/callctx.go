// Package callctx stores short-lived per-call context so that any stateless
// server instance can resolve an in-flight delegation call it did not start.
// Entries are namespaced by session, carry a short TTL, and are best-effort:
// a missing entry means the call finished or the entry aged out.
package callctx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/logging"
)

const keyPrefix = "callctx:"

// DefaultTTL bounds how long an entry outlives its call.
const DefaultTTL = 10 * time.Minute

// ErrNotFound is returned by Get when no entry exists for the call. Expired
// and never-registered entries are indistinguishable.
var ErrNotFound = errors.New("callctx: entry not found")

// Entry is the context recorded for one in-flight call.
type Entry struct {
	SessionID string         `json:"session_id"`
	CallID    string         `json:"call_id"`
	UserID    string         `json:"user_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	SandboxID string         `json:"sandbox_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists call context entries in Redis.
type Store struct {
	client redis.UniversalClient
	logger *logging.Logger
	ttl    time.Duration
}

// NewStore creates a Store. A non-positive ttl falls back to DefaultTTL.
func NewStore(client redis.UniversalClient, logger *logging.Logger, ttl time.Duration) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, logger: logger, ttl: ttl}
}

func entryKey(sessionID, callID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, sessionID, callID)
}

// Register stores the entry under its session and call ids with the store's
// TTL. Registering the same call twice overwrites the previous entry and
// resets the TTL.
func (s *Store) Register(ctx context.Context, entry Entry) error {
	if entry.SessionID == "" || entry.CallID == "" {
		return errors.NewValidationError("call context requires session and call ids")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal call context")
	}
	if err := s.client.Set(ctx, entryKey(entry.SessionID, entry.CallID), data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "store call context")
	}
	return nil
}

// Get returns the entry for the call, or ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID, callID string) (*Entry, error) {
	data, err := s.client.Get(ctx, entryKey(sessionID, callID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load call context")
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, "decode call context")
	}
	return &entry, nil
}

// Unregister removes the entry for a finished call. Removing a missing entry
// is not an error.
func (s *Store) Unregister(ctx context.Context, sessionID, callID string) error {
	if err := s.client.Del(ctx, entryKey(sessionID, callID)).Err(); err != nil {
		return errors.Wrap(err, "delete call context")
	}
	return nil
}

// CleanupForSession removes every entry in the session's namespace and
// returns how many were deleted. Used when a session ends with calls still
// registered; the TTL would reclaim them anyway.
func (s *Store) CleanupForSession(ctx context.Context, sessionID string) (int, error) {
	pattern := keyPrefix + sessionID + ":*"
	var deleted int
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, errors.Wrap(err, "scan call context namespace")
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, errors.Wrap(err, "delete call context batch")
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if deleted > 0 {
		s.logger.Debug("cleaned up call context entries", "session_id", sessionID, "count", deleted)
	}
	return deleted, nil
}
