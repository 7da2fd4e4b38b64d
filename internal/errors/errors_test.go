package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestSessionErrorFormatting(t *testing.T) {
	err := NewSessionError("failed to load session", ErrSessionNotFound).WithSessionID("abc123")

	want := "session error [session=abc123]: failed to load session: session not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrSessionNotFound) {
		t.Error("expected error to match ErrSessionNotFound")
	}
}

func TestTaskErrorContext(t *testing.T) {
	err := NewTaskError("update failed", ErrTaskNotFound).WithTaskID("task-3").WithPhase("implement")

	want := "task error [task=task-3, phase=implement]: update failed: task not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrTaskNotFound) {
		t.Error("expected error to match ErrTaskNotFound")
	}
}

func TestLockErrorNotUserFacing(t *testing.T) {
	err := NewLockError("acquire failed", ErrLockTimeout).WithKey("sandbox:p1")

	if IsUserFacing(err) {
		t.Error("lock errors should not be user-facing")
	}
	if !Is(err, ErrLockTimeout) {
		t.Error("expected error to match ErrLockTimeout")
	}
}

func TestDelegationErrorRetryableByDefault(t *testing.T) {
	err := NewDelegationError("executor crashed", New("boom")).WithSessionID("s1").WithTaskID("t1")

	if !IsRetryable(err) {
		t.Error("delegation errors should be retryable by default")
	}
	if !IsRetryable(err.WithRetryable(true)) {
		t.Error("WithRetryable(true) should keep the error retryable")
	}
	err2 := NewDelegationError("fatal", nil).WithRetryable(false)
	if IsRetryable(err2) {
		t.Error("WithRetryable(false) should make the error non-retryable")
	}
}

func TestNotFoundErrorMatchesSentinels(t *testing.T) {
	tests := []struct {
		resourceType string
		sentinel     error
	}{
		{"session", ErrSessionNotFound},
		{"task", ErrTaskNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.resourceType, func(t *testing.T) {
			err := NewNotFoundError(tt.resourceType, "id-1")
			if !Is(err, tt.sentinel) {
				t.Errorf("NewNotFoundError(%q) should match %v", tt.resourceType, tt.sentinel)
			}
			if !IsNotFound(err) {
				t.Error("IsNotFound should be true")
			}
		})
	}
}

func TestIsNotFoundWrapped(t *testing.T) {
	err := fmt.Errorf("loading state: %w", ErrSessionNotFound)
	if !IsNotFound(err) {
		t.Error("IsNotFound should see through fmt.Errorf wrapping")
	}
	if IsNotFound(New("unrelated")) {
		t.Error("IsNotFound should be false for unrelated errors")
	}
}

func TestIsRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout error", NewTimeoutError("waiting for lock", 10*time.Second), true},
		{"wrapped timeout sentinel", fmt.Errorf("op: %w", ErrTimeout), true},
		{"version conflict", fmt.Errorf("save: %w", ErrVersionConflict), true},
		{"validation error", NewValidationError("bad id"), false},
		{"plain error", New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want SeverityDebug", got)
	}
	if got := GetSeverity(New("plain")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want SeverityError", got)
	}
	err := NewSessionError("x", nil).WithSeverity(SeverityCritical)
	if got := GetSeverity(err); got != SeverityCritical {
		t.Errorf("GetSeverity(critical) = %v, want SeverityCritical", got)
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrapf(ErrVersionConflict, "saving session %s", "abc")
	if !Is(err, ErrVersionConflict) {
		t.Error("Wrapf should preserve the wrapped sentinel")
	}
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
