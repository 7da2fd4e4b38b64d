// Package lock provides a distributed mutex over Redis for serializing
// operations across stateless server instances. A lock is a key written with
// set-if-absent and a TTL; the value is an owner token so only the holder can
// release it, and the TTL bounds how long a crashed holder can block others.
//
// When the lock store is unreachable the manager defaults to fail-open: it
// logs loudly and returns a lockless lease so the guarded operation still
// runs, trading mutual exclusion for availability. Call sites that must not
// proceed without the lock set Options.Require to fail closed instead.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/logging"
)

const keyPrefix = "lock:"

// releaseScript deletes the lock key only when it still holds the caller's
// token. Without the compare, a holder whose lease expired could delete a
// successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options control a single Acquire call. Zero fields fall back to the
// manager's defaults.
type Options struct {
	// TTL is the lease duration. The key expires after this even if the
	// holder never releases it.
	TTL time.Duration

	// Timeout bounds how long Acquire polls for a contended lock.
	Timeout time.Duration

	// RetryInterval is the polling period while the lock is held elsewhere.
	RetryInterval time.Duration

	// Require makes store unavailability a hard failure instead of
	// degrading to a lockless lease.
	Require bool
}

// Manager acquires and releases distributed locks.
type Manager struct {
	client        redis.UniversalClient
	logger        *logging.Logger
	ttl           time.Duration
	timeout       time.Duration
	retryInterval time.Duration
}

// NewManager creates a lock manager with the given defaults.
func NewManager(client redis.UniversalClient, logger *logging.Logger, ttl, timeout, retryInterval time.Duration) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		client:        client,
		logger:        logger,
		ttl:           ttl,
		timeout:       timeout,
		retryInterval: retryInterval,
	}
}

// Lease is a held (or fail-open lockless) lock. Release it when the guarded
// operation finishes.
type Lease struct {
	manager  *Manager
	key      string
	token    string
	lockless bool
}

// Key returns the lock key.
func (l *Lease) Key() string { return l.key }

// Lockless reports whether this lease was granted without mutual exclusion
// because the lock store was unavailable.
func (l *Lease) Lockless() bool { return l.lockless }

// Acquire obtains the lock for key, polling until it is free or the timeout
// elapses. On ErrLockTimeout the lock is legitimately held elsewhere and the
// caller should surface a busy error rather than proceed.
func (m *Manager) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = m.retryInterval
	}

	redisKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := m.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.NewLockError("lock acquisition canceled", errors.ErrCanceled).WithKey(key)
			}
			return m.failOpen(key, opts.Require, err)
		}
		if ok {
			m.logger.Debug("lock acquired", "key", key, "ttl", ttl.String())
			return &Lease{manager: m, key: redisKey, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, errors.NewLockError("lock held by another instance", errors.ErrLockTimeout).WithKey(key)
		}

		select {
		case <-ctx.Done():
			return nil, errors.NewLockError("lock acquisition canceled", errors.ErrCanceled).WithKey(key)
		case <-time.After(interval):
		}
	}
}

// failOpen handles an unreachable lock store. Store unavailability is never
// silent: fail-open logs at error level before degrading.
func (m *Manager) failOpen(key string, require bool, cause error) (*Lease, error) {
	if require {
		m.logger.Error("lock store unavailable, failing closed", "key", key, "error", cause.Error())
		return nil, errors.NewLockError("lock store unavailable", errors.ErrLockStoreUnavailable).WithKey(key)
	}
	m.logger.Error("lock store unavailable, proceeding without lock", "key", key, "lockless", true, "error", cause.Error())
	return &Lease{manager: m, key: keyPrefix + key, lockless: true}, nil
}

// Release frees the lock if this lease still holds it. A lease whose TTL
// already expired, or that was taken over by another instance, releases as a
// no-op. Release on a lockless lease does nothing.
func (l *Lease) Release(ctx context.Context) error {
	if l.lockless {
		return nil
	}

	deleted, err := releaseScript.Run(ctx, l.manager.client, []string{l.key}, l.token).Int()
	if err != nil {
		l.manager.logger.Warn("lock release failed, lease will expire by ttl", "key", l.key, "error", err.Error())
		return errors.NewLockError("release failed", err).WithKey(l.key).WithHolder(l.token)
	}
	if deleted == 0 {
		l.manager.logger.Debug("lock already expired or reassigned", "key", l.key)
	}
	return nil
}
