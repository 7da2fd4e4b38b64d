package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgehq/forge/internal/errors"
)

// Store defines the interface for session persistence. The serving layer is
// stateless and horizontally scaled, so every implementation must provide
// version-stamped optimistic concurrency: concurrent read-modify-write cycles
// on the same session surface as ErrVersionConflict rather than a lost update.
type Store interface {
	// Create persists a new session with Version set to 1.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID.
	// Returns errors.ErrSessionNotFound if the session does not exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Update persists an existing session with optimistic locking. The
	// session's Version must match the stored version; on success the
	// version is incremented in place.
	// Returns errors.ErrVersionConflict if another writer got there first.
	// Returns errors.ErrSessionNotFound if the session does not exist.
	Update(ctx context.Context, s *Session) error

	// Delete removes a session by ID. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// FindActive returns the most-recently-active session for
	// (userID, projectID) that is active and not yet expired, or nil if
	// there is none.
	FindActive(ctx context.Context, userID, projectID string) (*Session, error)

	// ListExpired returns the IDs of sessions whose expiry is at or before
	// the given time.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Driver selects the session store backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// WithRedisClient sets the Redis client for the Redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL sets the key expiry used by drivers that support it.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// defaultTTL matches the 24-hour session lifecycle.
const defaultTTL = 24 * time.Hour

// NewStore creates a session Store for the given driver.
// The Redis driver requires WithRedisClient.
func NewStore(driver Driver, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{ttl: defaultTTL}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = defaultTTL
	}

	switch driver {
	case DriverMemory:
		return newMemoryStore(), nil

	case DriverRedis:
		if cfg.redisClient == nil {
			return nil, errors.NewValidationError("redis driver requires a client").WithField("redisClient")
		}
		return newRedisStore(cfg.redisClient, cfg.ttl), nil

	default:
		return nil, errors.NewValidationError("unknown session store driver").
			WithField("driver").WithValue(string(driver))
	}
}
