package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/internal/errors"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	store, err := NewStore(DriverMemory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store, nil, ttl)
}

func TestLoadOrCreateReturnsSameSessionWithinWindow(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 24*time.Hour)
	ctx := context.Background()

	first, err := mgr.LoadOrCreate(ctx, "user-1", "proj-1")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := mgr.LoadOrCreate(ctx, "user-1", "proj-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same (user, project) within 24h must resolve to the same session")
}

func TestLoadOrCreateIsolatesOwners(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 24*time.Hour)
	ctx := context.Background()

	a, err := mgr.LoadOrCreate(ctx, "user-1", "proj-1")
	require.NoError(t, err)
	b, err := mgr.LoadOrCreate(ctx, "user-1", "proj-2")
	require.NoError(t, err)
	c, err := mgr.LoadOrCreate(ctx, "user-2", "proj-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestLoadOrCreateSkipsExpiredSession(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, time.Millisecond)
	ctx := context.Background()

	first, err := mgr.LoadOrCreate(ctx, "user-1", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := mgr.LoadOrCreate(ctx, "user-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "expired session must not be reused")
}

func TestAddMessageUpdatesDerivedFields(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 24*time.Hour)
	ctx := context.Background()

	sess, err := mgr.LoadOrCreate(ctx, "user-1", "")
	require.NoError(t, err)

	require.NoError(t, mgr.AddMessage(ctx, sess.ID, RoleUser, "build me an app"))
	require.NoError(t, mgr.AddMessage(ctx, sess.ID, RoleAssistant, "working on it"))

	got, err := mgr.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
	assert.Equal(t, "working on it", got.LastMessage)
	assert.Equal(t, RoleUser, got.ConversationHistory[0].Role)
	assert.True(t, got.Version > sess.Version)
}

func TestAddMessageUnknownSessionIsFatal(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 24*time.Hour)
	err := mgr.AddMessage(context.Background(), "no-such-session", RoleUser, "hello")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestMutateRetriesVersionConflict(t *testing.T) {
	t.Parallel()

	store, err := NewStore(DriverMemory)
	require.NoError(t, err)
	mgr := NewManager(store, nil, 24*time.Hour)
	ctx := context.Background()

	sess, err := mgr.LoadOrCreate(ctx, "user-1", "")
	require.NoError(t, err)

	// Interleave a competing write during the first mutation attempt.
	interfered := false
	_, err = mgr.Mutate(ctx, sess.ID, func(s *Session) error {
		if !interfered {
			interfered = true
			other, getErr := store.Get(ctx, sess.ID)
			require.NoError(t, getErr)
			other.LastMessage = "competitor"
			require.NoError(t, store.Update(ctx, other))
		}
		s.TotalSteps = 5
		return nil
	})
	require.NoError(t, err, "Mutate should retry past a single version conflict")

	got, err := mgr.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalSteps)
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t, 24*time.Hour)
	ctx := context.Background()

	sess, err := mgr.LoadOrCreate(ctx, "user-1", "")
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateStatus(ctx, sess.ID, StatusCompleted))
	got, err := mgr.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	// Completed sessions are not returned by LoadOrCreate.
	next, err := mgr.LoadOrCreate(ctx, "user-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, next.ID)
}

func TestCleanupExpired(t *testing.T) {
	t.Parallel()

	store, err := NewStore(DriverMemory)
	require.NoError(t, err)
	mgr := NewManager(store, nil, time.Millisecond)
	ctx := context.Background()

	_, err = mgr.LoadOrCreate(ctx, "user-1", "")
	require.NoError(t, err)
	_, err = mgr.LoadOrCreate(ctx, "user-2", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	count, err := mgr.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	again, err := mgr.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestStoreVersionConflict(t *testing.T) {
	t.Parallel()

	store, err := NewStore(DriverMemory)
	require.NoError(t, err)
	ctx := context.Background()

	sess := New("user-1", "", 24*time.Hour)
	require.NoError(t, store.Create(ctx, sess))

	a, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	b, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)

	a.TotalSteps = 1
	require.NoError(t, store.Update(ctx, a))

	b.TotalSteps = 2
	err = store.Update(ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrVersionConflict))
}

func TestStoreIsolation(t *testing.T) {
	t.Parallel()

	store, err := NewStore(DriverMemory)
	require.NoError(t, err)
	ctx := context.Background()

	sess := New("user-1", "", 24*time.Hour)
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	got.Tasks = append(got.Tasks, Task{ID: "t1", Status: TaskPending})

	fresh, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.Tasks, "store must not alias caller-held sessions")
}
