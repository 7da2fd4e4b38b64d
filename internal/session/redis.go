package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgehq/forge/internal/errors"
)

const (
	// sessionKeyPrefix namespaces the per-session JSON blobs.
	sessionKeyPrefix = "session:"
	// ownerKeyPrefix namespaces the per-owner activity index, a sorted set
	// of session ids scored by last-active time.
	ownerKeyPrefix = "session:owner:"
	// expiryIndexKey is a global sorted set of session ids scored by their
	// expiry time, used for garbage collection.
	expiryIndexKey = "session:expiry"
)

// redisStore implements Store using Redis. Optimistic locking uses
// WATCH/MULTI/EXEC: the stored Version is compared inside the transaction,
// so a concurrent writer either loses the WATCH or trips the version check.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisStore(client *redis.Client, ttl time.Duration) *redisStore {
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) key(id string) string {
	return sessionKeyPrefix + id
}

// ownerKey builds the activity index key for (userID, projectID).
// An empty project id maps to "-" so the key shape stays fixed.
func ownerKey(userID, projectID string) string {
	if projectID == "" {
		projectID = "-"
	}
	return ownerKeyPrefix + userID + ":" + projectID
}

// Create implements Store.
func (s *redisStore) Create(ctx context.Context, data *Session) error {
	data.Version = 1

	val, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}

	owner := ownerKey(data.UserID, data.ProjectID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(data.ID), val, s.ttl)
		pipe.ZAdd(ctx, owner, redis.Z{Score: float64(data.LastActive.Unix()), Member: data.ID})
		pipe.ZAdd(ctx, expiryIndexKey, redis.Z{Score: float64(data.ExpiresAt.Unix()), Member: data.ID})
		pipe.Expire(ctx, owner, s.ttl)
		return nil
	})
	return err
}

// Get implements Store. The blob TTL is refreshed on read so an active
// session outlives idle gaps shorter than the store TTL; logical expiry is
// still enforced by ExpiresAt.
func (s *redisStore) Get(ctx context.Context, id string) (*Session, error) {
	val, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return nil, errors.NewNotFoundError("session", id).WithCause(errors.ErrSessionNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}

	var data Session
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return nil, errors.NewSessionError("failed to decode session", errors.ErrSessionCorrupted).WithSessionID(id)
	}

	// Refresh TTL on read; best effort.
	_ = s.client.Expire(ctx, s.key(id), s.ttl).Err()

	return &data, nil
}

// Update implements Store.
func (s *redisStore) Update(ctx context.Context, data *Session) error {
	key := s.key(data.ID)
	owner := ownerKey(data.UserID, data.ProjectID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return errors.NewNotFoundError("session", data.ID).WithCause(errors.ErrSessionNotFound)
		}
		if err != nil {
			return err
		}

		var stored Session
		if err := json.Unmarshal([]byte(val), &stored); err != nil {
			return errors.NewSessionError("failed to decode session", errors.ErrSessionCorrupted).WithSessionID(data.ID)
		}

		if stored.Version != data.Version {
			return errors.Wrapf(errors.ErrVersionConflict, "session %s: have %d, stored %d",
				data.ID, data.Version, stored.Version)
		}

		data.Version++

		newVal, err := json.Marshal(data)
		if err != nil {
			return errors.Wrap(err, "failed to marshal session")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			pipe.ZAdd(ctx, owner, redis.Z{Score: float64(data.LastActive.Unix()), Member: data.ID})
			pipe.Expire(ctx, owner, s.ttl)
			return nil
		})
		return err
	}, key)

	// A lost WATCH means another writer committed between our read and
	// write. Surface it the same way as a version mismatch.
	if err == redis.TxFailedErr {
		return errors.Wrapf(errors.ErrVersionConflict, "session %s: concurrent write", data.ID)
	}
	return err
}

// Delete implements Store.
func (s *redisStore) Delete(ctx context.Context, id string) error {
	// Read first so the owner index entry can be removed too. A missing
	// blob still gets its expiry-index entry cleaned up.
	var owner string
	if val, err := s.client.Get(ctx, s.key(id)).Result(); err == nil {
		var data Session
		if json.Unmarshal([]byte(val), &data) == nil {
			owner = ownerKey(data.UserID, data.ProjectID)
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, expiryIndexKey, id)
		if owner != "" {
			pipe.ZRem(ctx, owner, id)
		}
		return nil
	})
	return err
}

// FindActive implements Store. Candidates come from the owner activity index
// in most-recently-active order; stale index entries are pruned as they are
// encountered.
func (s *redisStore) FindActive(ctx context.Context, userID, projectID string) (*Session, error) {
	owner := ownerKey(userID, projectID)

	ids, err := s.client.ZRevRange(ctx, owner, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "failed to scan owner index")
	}

	now := time.Now()
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.IsNotFound(err) {
				_ = s.client.ZRem(ctx, owner, id).Err()
				continue
			}
			return nil, err
		}
		if sess.Status == StatusActive && !sess.IsExpired(now) {
			return sess, nil
		}
	}
	return nil, nil
}

// ListExpired implements Store.
func (s *redisStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "failed to scan expiry index")
	}
	return ids, nil
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}
