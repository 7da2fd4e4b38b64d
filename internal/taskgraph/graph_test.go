package taskgraph

import (
	"context"
	"testing"
	"time"

	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/session"
)

func newTestGraph(t *testing.T) (*Manager, string) {
	t.Helper()
	store, err := session.NewStore(session.DriverMemory)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sessions := session.NewManager(store, nil, 24*time.Hour)
	sess, err := sessions.LoadOrCreate(context.Background(), "user-1", "proj-1")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	return NewManager(sessions, nil, 3), sess.ID
}

func statusPtr(s session.TaskStatus) *session.TaskStatus { return &s }

// start and finish walk a task through the state machine.
func start(t *testing.T, m *Manager, sessionID, taskID string) {
	t.Helper()
	if _, err := m.UpdateTask(context.Background(), sessionID, taskID, Patch{Status: statusPtr(session.TaskInProgress)}); err != nil {
		t.Fatalf("start %s: %v", taskID, err)
	}
}

func finish(t *testing.T, m *Manager, sessionID, taskID string, status session.TaskStatus) {
	t.Helper()
	if _, err := m.UpdateTask(context.Background(), sessionID, taskID, Patch{Status: statusPtr(status)}); err != nil {
		t.Fatalf("finish %s as %s: %v", taskID, status, err)
	}
}

func TestCreateTasksAndOrder(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	tasks, err := m.CreateTasks(ctx, sid, []CreateTaskInput{
		{ID: "a", Phase: session.PhaseSetup, Description: "scaffold"},
		{ID: "b", Phase: session.PhaseImplement, Description: "feature", DependsOn: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.Status != session.TaskPending {
			t.Errorf("task %q status = %s, want pending", task.ID, task.Status)
		}
		if task.MaxAttempts != 3 {
			t.Errorf("task %q max_attempts = %d, want default 3", task.ID, task.MaxAttempts)
		}
		if task.DependsOn == nil {
			t.Errorf("task %q DependsOn should never be nil", task.ID)
		}
	}

	progress, err := m.GetProgress(ctx, sid)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.Total != 2 || progress.Pending != 2 {
		t.Errorf("progress = %+v, want total=2 pending=2", progress)
	}
}

func TestCreateTasksRejectsUnknownDependency(t *testing.T) {
	m, sid := newTestGraph(t)

	_, err := m.CreateTasks(context.Background(), sid, []CreateTaskInput{
		{ID: "a", DependsOn: []string{"ghost"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
	if !errors.Is(err, errors.ErrUnknownDependency) {
		t.Errorf("error = %v, want ErrUnknownDependency", err)
	}
}

func TestCreateTasksRejectsCycle(t *testing.T) {
	m, sid := newTestGraph(t)

	_, err := m.CreateTasks(context.Background(), sid, []CreateTaskInput{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	})
	if err == nil {
		t.Fatal("expected error for dependency cycle")
	}
	if !errors.Is(err, errors.ErrDependencyCycle) {
		t.Errorf("error = %v, want ErrDependencyCycle", err)
	}
}

func TestCreateTasksRejectsDuplicateID(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	if _, err := m.CreateTask(ctx, sid, CreateTaskInput{ID: "a"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := m.CreateTask(ctx, sid, CreateTaskInput{ID: "a"}); err == nil {
		t.Fatal("expected error for duplicate task id")
	}
}

func TestGetNextTaskDependencyOrder(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	// Scenario: A with no deps, B and C both depending on A.
	_, err := m.CreateTasks(ctx, sid, []CreateTaskInput{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}

	next, err := m.GetNextTask(ctx, sid)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if next == nil || next.ID != "A" {
		t.Fatalf("first ready task = %v, want A", next)
	}

	start(t, m, sid, "A")

	// While A is in progress nothing else is ready.
	next, err = m.GetNextTask(ctx, sid)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if next != nil {
		t.Fatalf("expected no ready task while A in progress, got %q", next.ID)
	}

	finish(t, m, sid, "A", session.TaskCompleted)

	first, err := m.GetNextTask(ctx, sid)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if first == nil || (first.ID != "B" && first.ID != "C") {
		t.Fatalf("after A completes, next = %v, want B or C", first)
	}

	// The next cycle must not hand out the other task until the first
	// finishes: B (creation order) is in progress, C still pending but the
	// scan returns C only because B is no longer pending.
	start(t, m, sid, first.ID)
	second, err := m.GetNextTask(ctx, sid)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if second == nil || second.ID == first.ID {
		t.Fatalf("expected the sibling of %q, got %v", first.ID, second)
	}
}

func TestGetNextTaskNeverReturnsBlockedTask(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	_, err := m.CreateTasks(ctx, sid, []CreateTaskInput{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}

	start(t, m, sid, "A")
	finish(t, m, sid, "A", session.TaskFailed)

	// A failed, so B's dependency set is not a subset of completed ids.
	next, err := m.GetNextTask(ctx, sid)
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if next != nil {
		t.Errorf("B should be blocked behind failed A, got %q", next.ID)
	}
}

func TestStateMachineRejectsIllegalTransitions(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	if _, err := m.CreateTask(ctx, sid, CreateTaskInput{ID: "a"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	tests := []struct {
		name string
		to   session.TaskStatus
	}{
		{"pending to completed", session.TaskCompleted},
		{"pending to failed", session.TaskFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.UpdateTask(ctx, sid, "a", Patch{Status: statusPtr(tt.to)})
			if !errors.Is(err, errors.ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
		})
	}

	start(t, m, sid, "a")
	finish(t, m, sid, "a", session.TaskCompleted)

	// Terminal without reset: completed -> in-progress must fail.
	if _, err := m.UpdateTask(ctx, sid, "a", Patch{Status: statusPtr(session.TaskInProgress)}); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("completed -> in-progress error = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateTaskBookkeeping(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	if _, err := m.CreateTask(ctx, sid, CreateTaskInput{ID: "a"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	started, err := m.UpdateTask(ctx, sid, "a", Patch{Status: statusPtr(session.TaskInProgress)})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if started.StartedAt == nil {
		t.Error("in-progress transition should stamp StartedAt")
	}

	mgr := m.sessions
	sess, _ := mgr.Get(ctx, sid)
	if sess.CurrentTaskID != "a" {
		t.Errorf("CurrentTaskID = %q, want a", sess.CurrentTaskID)
	}

	result := &session.TaskResult{Success: true, CommandOutput: "done"}
	completed, err := m.UpdateTask(ctx, sid, "a", Patch{Status: statusPtr(session.TaskCompleted), Result: result})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if completed.CompletedAt == nil {
		t.Error("completed transition should stamp CompletedAt")
	}
	if completed.Result == nil || !completed.Result.Success {
		t.Error("result should be recorded")
	}

	sess, _ = mgr.Get(ctx, sid)
	if sess.CurrentTaskID != "" {
		t.Errorf("CurrentTaskID should be cleared, got %q", sess.CurrentTaskID)
	}
	if !sess.HasCompleted("a") {
		t.Error("completed id set should contain a")
	}
	if sess.CompletedSteps != 1 {
		t.Errorf("CompletedSteps = %d, want 1", sess.CompletedSteps)
	}
}

func TestFailedTaskBookkeeping(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	if _, err := m.CreateTask(ctx, sid, CreateTaskInput{ID: "a"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	start(t, m, sid, "a")

	msg := "compile error"
	if _, err := m.UpdateTask(ctx, sid, "a", Patch{Status: statusPtr(session.TaskFailed), ErrorMessage: &msg}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	sess, _ := m.sessions.Get(ctx, sid)
	if len(sess.FailedTaskIDs) != 1 || sess.FailedTaskIDs[0] != "a" {
		t.Errorf("FailedTaskIDs = %v, want [a]", sess.FailedTaskIDs)
	}
	if sess.CompletedSteps != 0 {
		t.Errorf("failed tasks must not count as completed steps, got %d", sess.CompletedSteps)
	}
	task := sess.FindTask("a")
	if task.ErrorMessage != msg {
		t.Errorf("ErrorMessage = %q, want %q", task.ErrorMessage, msg)
	}
}

func TestRetryExhaustion(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	if _, err := m.CreateTask(ctx, sid, CreateTaskInput{ID: "a", MaxAttempts: 3}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Fail three times, resetting between attempts as the controller would.
	for i := 0; i < 3; i++ {
		if _, err := m.IncrementAttempts(ctx, sid, "a"); err != nil {
			t.Fatalf("IncrementAttempts: %v", err)
		}
		start(t, m, sid, "a")
		finish(t, m, sid, "a", session.TaskFailed)

		ok, err := m.CanRetry(ctx, sid, "a")
		if err != nil {
			t.Fatalf("CanRetry: %v", err)
		}
		if i < 2 {
			if !ok {
				t.Fatalf("attempt %d: expected retry budget remaining", i+1)
			}
			if err := m.ResetTask(ctx, sid, "a"); err != nil {
				t.Fatalf("ResetTask: %v", err)
			}
		} else if ok {
			t.Error("after 3 attempts CanRetry should be false")
		}
	}

	sess, _ := m.sessions.Get(ctx, sid)
	task := sess.FindTask("a")
	if task.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", task.Attempts)
	}
	if len(sess.FailedTaskIDs) != 1 || sess.FailedTaskIDs[0] != "a" {
		t.Errorf("FailedTaskIDs = %v, want [a]", sess.FailedTaskIDs)
	}
}

func TestResetTask(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	if _, err := m.CreateTask(ctx, sid, CreateTaskInput{ID: "a"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Resetting a non-terminal task is invalid.
	if err := m.ResetTask(ctx, sid, "a"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("reset pending task error = %v, want ErrInvalidTransition", err)
	}

	start(t, m, sid, "a")
	finish(t, m, sid, "a", session.TaskCompleted)

	if err := m.ResetTask(ctx, sid, "a"); err != nil {
		t.Fatalf("ResetTask: %v", err)
	}

	sess, _ := m.sessions.Get(ctx, sid)
	task := sess.FindTask("a")
	if task.Status != session.TaskPending {
		t.Errorf("status after reset = %s, want pending", task.Status)
	}
	if task.StartedAt != nil || task.CompletedAt != nil || task.Result != nil {
		t.Error("reset should clear execution stamps and result")
	}
	if sess.HasCompleted("a") {
		t.Error("reset should remove the id from the completed set")
	}
	if sess.CompletedSteps != 0 {
		t.Errorf("CompletedSteps = %d, want 0 after reset", sess.CompletedSteps)
	}
}

func TestUnknownTaskIsFatal(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	if _, err := m.UpdateTask(ctx, sid, "ghost", Patch{Status: statusPtr(session.TaskInProgress)}); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("UpdateTask error = %v, want ErrTaskNotFound", err)
	}
	if _, err := m.IncrementAttempts(ctx, sid, "ghost"); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("IncrementAttempts error = %v, want ErrTaskNotFound", err)
	}
	if _, err := m.GetTask(ctx, sid, "ghost"); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("GetTask error = %v, want ErrTaskNotFound", err)
	}
}

func TestProgressPercent(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	// Empty graph is 0%, not a division by zero.
	progress, err := m.GetProgress(ctx, sid)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.PercentComplete != 0 {
		t.Errorf("empty graph percent = %d, want 0", progress.PercentComplete)
	}

	_, err = m.CreateTasks(ctx, sid, []CreateTaskInput{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	if err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}

	start(t, m, sid, "a")
	finish(t, m, sid, "a", session.TaskCompleted)

	progress, _ = m.GetProgress(ctx, sid)
	if progress.PercentComplete != 33 {
		t.Errorf("1/3 percent = %d, want 33", progress.PercentComplete)
	}
	if progress.Completed != 1 || progress.Pending != 2 {
		t.Errorf("progress = %+v, want completed=1 pending=2", progress)
	}

	start(t, m, sid, "b")
	finish(t, m, sid, "b", session.TaskCompleted)

	progress, _ = m.GetProgress(ctx, sid)
	if progress.PercentComplete != 67 {
		t.Errorf("2/3 percent = %d, want 67 (rounded)", progress.PercentComplete)
	}
}

func TestAreAllTasksComplete(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	// No tasks yet: not complete.
	done, err := m.AreAllTasksComplete(ctx, sid)
	if err != nil {
		t.Fatalf("AreAllTasksComplete: %v", err)
	}
	if done {
		t.Error("empty graph should not report complete")
	}

	_, err = m.CreateTasks(ctx, sid, []CreateTaskInput{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}

	start(t, m, sid, "a")
	finish(t, m, sid, "a", session.TaskCompleted)

	done, _ = m.AreAllTasksComplete(ctx, sid)
	if done {
		t.Error("with b still pending, should not report complete")
	}

	start(t, m, sid, "b")
	finish(t, m, sid, "b", session.TaskFailed)

	done, _ = m.AreAllTasksComplete(ctx, sid)
	if !done {
		t.Error("completed + failed are both terminal; should report complete")
	}
}

func TestGetTasksByStatusAndPhase(t *testing.T) {
	m, sid := newTestGraph(t)
	ctx := context.Background()

	_, err := m.CreateTasks(ctx, sid, []CreateTaskInput{
		{ID: "a", Phase: session.PhaseSetup},
		{ID: "b", Phase: session.PhaseImplement, DependsOn: []string{"a"}},
		{ID: "c", Phase: session.PhaseImplement, DependsOn: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}
	start(t, m, sid, "a")

	pending, err := m.GetTasksByStatus(ctx, sid, session.TaskPending)
	if err != nil {
		t.Fatalf("GetTasksByStatus: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending count = %d, want 2", len(pending))
	}

	impl, err := m.GetTasksByPhase(ctx, sid, session.PhaseImplement)
	if err != nil {
		t.Fatalf("GetTasksByPhase: %v", err)
	}
	if len(impl) != 2 {
		t.Errorf("implement count = %d, want 2", len(impl))
	}
}
