package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/errors"
)

func newRedisTestStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewStore(DriverRedis, WithRedisClient(client), WithTTL(24*time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	sess := New("user-1", "proj-1", 24*time.Hour)
	sess.ConversationHistory = append(sess.ConversationHistory, Message{
		Role: RoleUser, Content: "hello", Timestamp: time.Now(),
	})
	require.NoError(t, store.Create(ctx, sess))
	assert.EqualValues(t, 1, sess.Version)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	require.Len(t, got.ConversationHistory, 1)
	assert.Equal(t, "hello", got.ConversationHistory[0].Content)
}

func TestRedisStoreGetNotFound(t *testing.T) {
	store := newRedisTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))
}

func TestRedisStoreOptimisticLocking(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	sess := New("user-1", "", 24*time.Hour)
	require.NoError(t, store.Create(ctx, sess))

	a, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	b, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)

	a.TotalSteps = 1
	require.NoError(t, store.Update(ctx, a))
	assert.EqualValues(t, 2, a.Version)

	b.TotalSteps = 2
	err = store.Update(ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrVersionConflict))
}

func TestRedisStoreFindActivePrefersMostRecent(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	older := New("user-1", "proj-1", 24*time.Hour)
	older.LastActive = time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, older))

	newer := New("user-1", "proj-1", 24*time.Hour)
	require.NoError(t, store.Create(ctx, newer))

	found, err := store.FindActive(ctx, "user-1", "proj-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, newer.ID, found.ID)
}

func TestRedisStoreFindActiveSkipsInactive(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	done := New("user-1", "", 24*time.Hour)
	done.Status = StatusCompleted
	require.NoError(t, store.Create(ctx, done))

	found, err := store.FindActive(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRedisStoreListExpiredAndDelete(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	expired := New("user-1", "", time.Millisecond)
	require.NoError(t, store.Create(ctx, expired))
	alive := New("user-2", "", 24*time.Hour)
	require.NoError(t, store.Create(ctx, alive))

	time.Sleep(1100 * time.Millisecond) // expiry index has second resolution

	ids, err := store.ListExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Contains(t, ids, expired.ID)
	assert.NotContains(t, ids, alive.ID)

	require.NoError(t, store.Delete(ctx, expired.ID))
	_, err = store.Get(ctx, expired.ID)
	assert.True(t, errors.Is(err, errors.ErrSessionNotFound))

	ids, err = store.ListExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, ids, expired.ID, "delete must also drop the expiry index entry")
}

func TestRedisManagerEndToEnd(t *testing.T) {
	store := newRedisTestStore(t)
	mgr := NewManager(store, nil, 24*time.Hour)
	ctx := context.Background()

	first, err := mgr.LoadOrCreate(ctx, "user-1", "proj-1")
	require.NoError(t, err)
	require.NoError(t, mgr.AddMessage(ctx, first.ID, RoleUser, "start"))

	second, err := mgr.LoadOrCreate(ctx, "user-1", "proj-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, second.MessageCount)
}
