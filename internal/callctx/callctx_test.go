package callctx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/forgehq/forge/internal/logging"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, logging.NopLogger(), 10*time.Minute), mr
}

func TestRegisterGetUnregister(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	entry := Entry{
		SessionID: "sess-1",
		CallID:    "call-1",
		TaskID:    "task-3",
		ToolName:  "delegateTaskToCodingAgent",
		Metadata:  map[string]any{"phase": "implement"},
	}
	if err := s.Register(ctx, entry); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := s.Get(ctx, "sess-1", "call-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TaskID != "task-3" || got.ToolName != "delegateTaskToCodingAgent" {
		t.Errorf("Get() = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped on register")
	}
	if got.Metadata["phase"] != "implement" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	if err := s.Unregister(ctx, "sess-1", "call-1"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, err := s.Get(ctx, "sess-1", "call-1"); err != ErrNotFound {
		t.Fatalf("Get() after Unregister = %v, want ErrNotFound", err)
	}

	// Unregistering an already-removed call is a no-op.
	if err := s.Unregister(ctx, "sess-1", "call-1"); err != nil {
		t.Fatalf("second Unregister() error = %v", err)
	}
}

func TestRegisterRequiresIDs(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Register(context.Background(), Entry{CallID: "call-1"}); err == nil {
		t.Error("Register() without session id should fail")
	}
	if err := s.Register(context.Background(), Entry{SessionID: "sess-1"}); err == nil {
		t.Error("Register() without call id should fail")
	}
}

func TestEntryExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Register(ctx, Entry{SessionID: "sess-1", CallID: "call-1"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	mr.FastForward(11 * time.Minute)

	if _, err := s.Get(ctx, "sess-1", "call-1"); err != ErrNotFound {
		t.Fatalf("Get() after ttl = %v, want ErrNotFound", err)
	}
}

func TestCleanupForSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, callID := range []string{"call-1", "call-2", "call-3"} {
		if err := s.Register(ctx, Entry{SessionID: "sess-1", CallID: callID}); err != nil {
			t.Fatalf("Register(%s) error = %v", callID, err)
		}
	}
	if err := s.Register(ctx, Entry{SessionID: "sess-2", CallID: "call-1"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	deleted, err := s.CleanupForSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("CleanupForSession() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	if _, err := s.Get(ctx, "sess-1", "call-2"); err != ErrNotFound {
		t.Errorf("sess-1 entry survived cleanup: %v", err)
	}
	// Another session's namespace is untouched.
	if _, err := s.Get(ctx, "sess-2", "call-1"); err != nil {
		t.Errorf("sess-2 entry lost: %v", err)
	}
}
