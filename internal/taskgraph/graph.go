package taskgraph

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/logging"
	"github.com/forgehq/forge/internal/session"
)

// Manager owns task creation, status transitions, dependency resolution,
// retry eligibility, and progress aggregation for sessions. It is stateless;
// all task state lives in the Session Store.
type Manager struct {
	sessions    *session.Manager
	logger      *logging.Logger
	maxAttempts int
}

// NewManager creates a task graph Manager. maxAttempts is the default
// attempt budget applied to tasks that don't specify one; zero falls back to
// session.DefaultMaxAttempts.
func NewManager(sessions *session.Manager, logger *logging.Logger, maxAttempts int) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = session.DefaultMaxAttempts
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		sessions:    sessions,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// CreateTaskInput describes one task to add to a session's graph.
type CreateTaskInput struct {
	// ID is optional; a uuid is generated when empty. Explicit ids let the
	// planner reference tasks in DependsOn within one batch.
	ID           string
	Phase        session.Phase
	Description  string
	DependsOn    []string
	Tier         session.Tier
	Requirements []string
	// MaxAttempts overrides the manager default when positive.
	MaxAttempts int
}

// Patch describes an in-place task mutation. Nil fields are left untouched.
type Patch struct {
	Status       *session.TaskStatus
	Result       *session.TaskResult
	ErrorMessage *string
}

// Progress aggregates task counts for percent-complete reporting.
type Progress struct {
	Total           int `json:"total"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	InProgress      int `json:"in_progress"`
	Pending         int `json:"pending"`
	PercentComplete int `json:"percent_complete"`
}

// CreateTask appends a single task to the session's graph.
func (m *Manager) CreateTask(ctx context.Context, sessionID string, in CreateTaskInput) (*session.Task, error) {
	tasks, err := m.CreateTasks(ctx, sessionID, []CreateTaskInput{in})
	if err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

// CreateTasks appends a batch of tasks to the session's graph. The batch is
// validated as a whole: every DependsOn id must resolve to an existing or
// batch-local task, and the combined graph must be acyclic.
func (m *Manager) CreateTasks(ctx context.Context, sessionID string, ins []CreateTaskInput) ([]session.Task, error) {
	if len(ins) == 0 {
		return nil, errors.NewValidationError("task batch cannot be empty")
	}

	added := make([]session.Task, 0, len(ins))
	now := time.Now()
	for _, in := range ins {
		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}
		maxAttempts := in.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = m.maxAttempts
		}
		dependsOn := in.DependsOn
		if dependsOn == nil {
			dependsOn = []string{}
		}
		added = append(added, session.Task{
			ID:           id,
			Phase:        in.Phase,
			Description:  in.Description,
			Status:       session.TaskPending,
			DependsOn:    dependsOn,
			Tier:         in.Tier,
			Requirements: in.Requirements,
			MaxAttempts:  maxAttempts,
			CreatedAt:    now,
		})
	}

	sess, err := m.sessions.Mutate(ctx, sessionID, func(s *session.Session) error {
		for i := range added {
			if s.FindTask(added[i].ID) != nil {
				return errors.NewValidationError("duplicate task id").
					WithField("id").WithValue(added[i].ID)
			}
		}
		if err := validateGraph(s.Tasks, added); err != nil {
			return err
		}
		s.Tasks = append(s.Tasks, added...)
		s.TotalSteps += len(added)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.WithSession(sessionID).Info("tasks created",
		"count", len(added),
		"total_steps", sess.TotalSteps,
	)

	// Return the persisted copies.
	out := make([]session.Task, 0, len(added))
	for i := range added {
		out = append(out, *sess.FindTask(added[i].ID))
	}
	return out, nil
}

// UpdateTask applies a patch to one task, enforcing the state machine:
//
//	pending -> in-progress -> completed | failed
//
// in-progress stamps StartedAt and takes the session's single current-task
// slot; terminal states stamp CompletedAt, maintain the completed/failed id
// sets and the completed-steps counter, and clear the slot. Referencing an
// unknown task id is a fatal NotFound, never a silent no-op.
func (m *Manager) UpdateTask(ctx context.Context, sessionID, taskID string, patch Patch) (*session.Task, error) {
	sess, err := m.sessions.Mutate(ctx, sessionID, func(s *session.Session) error {
		task := s.FindTask(taskID)
		if task == nil {
			return errors.NewNotFoundError("task", taskID).WithCause(errors.ErrTaskNotFound)
		}

		if patch.Status != nil && *patch.Status != task.Status {
			if err := applyStatus(s, task, *patch.Status); err != nil {
				return err
			}
		}
		if patch.Result != nil {
			task.Result = patch.Result
		}
		if patch.ErrorMessage != nil {
			task.ErrorMessage = *patch.ErrorMessage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess.FindTask(taskID), nil
}

// applyStatus performs one state-machine transition and its bookkeeping.
func applyStatus(s *session.Session, task *session.Task, to session.TaskStatus) error {
	from := task.Status
	now := time.Now()

	switch {
	case from == session.TaskPending && to == session.TaskInProgress:
		task.Status = to
		if task.StartedAt == nil {
			task.StartedAt = &now
		}
		s.CurrentTaskID = task.ID

	case from == session.TaskInProgress && to == session.TaskCompleted:
		task.Status = to
		task.CompletedAt = &now
		s.CompletedTaskIDs = appendUnique(s.CompletedTaskIDs, task.ID)
		s.CompletedSteps++
		if s.CurrentTaskID == task.ID {
			s.CurrentTaskID = ""
		}

	case from == session.TaskInProgress && to == session.TaskFailed:
		task.Status = to
		task.CompletedAt = &now
		s.FailedTaskIDs = appendUnique(s.FailedTaskIDs, task.ID)
		if s.CurrentTaskID == task.ID {
			s.CurrentTaskID = ""
		}

	default:
		return errors.NewTaskError("status change not allowed", errors.ErrInvalidTransition).
			WithTaskID(task.ID).
			WithPhase(string(task.Phase))
	}
	return nil
}

// GetNextTask returns the first task in creation order that is pending with
// all dependencies completed, or nil when no task is ready (all done, all
// blocked, or one already in progress and the rest waiting on it). The
// caller decides what nil means contextually.
func (m *Manager) GetNextTask(ctx context.Context, sessionID string) (*session.Task, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next := nextReady(sess)
	if next == nil {
		return nil, nil
	}
	cp := *next
	return &cp, nil
}

// GetTask returns one task by id. Unknown ids are a fatal NotFound.
func (m *Manager) GetTask(ctx context.Context, sessionID, taskID string) (*session.Task, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	task := sess.FindTask(taskID)
	if task == nil {
		return nil, errors.NewNotFoundError("task", taskID).WithCause(errors.ErrTaskNotFound)
	}
	cp := *task
	return &cp, nil
}

// GetTasks returns all tasks in creation order.
func (m *Manager) GetTasks(ctx context.Context, sessionID string) ([]session.Task, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]session.Task, len(sess.Tasks))
	copy(out, sess.Tasks)
	return out, nil
}

// GetTasksByStatus returns all tasks currently in the given status.
func (m *Manager) GetTasksByStatus(ctx context.Context, sessionID string, status session.TaskStatus) ([]session.Task, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []session.Task
	for i := range sess.Tasks {
		if sess.Tasks[i].Status == status {
			out = append(out, sess.Tasks[i])
		}
	}
	return out, nil
}

// GetTasksByPhase returns all tasks labeled with the given phase.
func (m *Manager) GetTasksByPhase(ctx context.Context, sessionID string, phase session.Phase) ([]session.Task, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []session.Task
	for i := range sess.Tasks {
		if sess.Tasks[i].Phase == phase {
			out = append(out, sess.Tasks[i])
		}
	}
	return out, nil
}

// IncrementAttempts bumps the task's attempt counter and returns the new
// count. Unknown ids are a fatal NotFound.
func (m *Manager) IncrementAttempts(ctx context.Context, sessionID, taskID string) (int, error) {
	sess, err := m.sessions.Mutate(ctx, sessionID, func(s *session.Session) error {
		task := s.FindTask(taskID)
		if task == nil {
			return errors.NewNotFoundError("task", taskID).WithCause(errors.ErrTaskNotFound)
		}
		task.Attempts++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sess.FindTask(taskID).Attempts, nil
}

// CanRetry is the pure retry predicate: attempts < maxAttempts. It never
// retries anything itself; the controller decides whether to reset.
func CanRetry(task *session.Task) bool {
	return task.Attempts < task.MaxAttempts
}

// CanRetry reports whether the task has attempt budget remaining.
func (m *Manager) CanRetry(ctx context.Context, sessionID, taskID string) (bool, error) {
	task, err := m.GetTask(ctx, sessionID, taskID)
	if err != nil {
		return false, err
	}
	return CanRetry(task), nil
}

// ResetTask is the only transition out of a terminal state: the task returns
// to pending, leaves the completed/failed id sets, and (when it had counted
// as a completed step) gives that step back. Used for manual or error-driven
// retry before another scheduling pass.
func (m *Manager) ResetTask(ctx context.Context, sessionID, taskID string) error {
	_, err := m.sessions.Mutate(ctx, sessionID, func(s *session.Session) error {
		task := s.FindTask(taskID)
		if task == nil {
			return errors.NewNotFoundError("task", taskID).WithCause(errors.ErrTaskNotFound)
		}
		if !task.Status.IsTerminal() {
			return errors.NewTaskError("only terminal tasks can be reset", errors.ErrInvalidTransition).
				WithTaskID(taskID)
		}

		if task.Status == session.TaskCompleted && s.CompletedSteps > 0 {
			s.CompletedSteps--
		}
		task.Status = session.TaskPending
		task.Result = nil
		task.ErrorMessage = ""
		task.StartedAt = nil
		task.CompletedAt = nil
		s.CompletedTaskIDs = removeID(s.CompletedTaskIDs, taskID)
		s.FailedTaskIDs = removeID(s.FailedTaskIDs, taskID)
		return nil
	})
	if err == nil {
		m.logger.WithSession(sessionID).WithTask(taskID).Info("task reset to pending")
	}
	return err
}

// GetProgress aggregates task counts. PercentComplete is
// round(completedSteps/totalSteps*100), defined as 0 for an empty graph.
func (m *Manager) GetProgress(ctx context.Context, sessionID string) (Progress, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return Progress{}, err
	}
	return ProgressOf(sess), nil
}

// ProgressOf computes Progress from an already-loaded session.
func ProgressOf(s *session.Session) Progress {
	p := Progress{Total: len(s.Tasks)}
	for i := range s.Tasks {
		switch s.Tasks[i].Status {
		case session.TaskPending:
			p.Pending++
		case session.TaskInProgress:
			p.InProgress++
		case session.TaskCompleted:
			p.Completed++
		case session.TaskFailed:
			p.Failed++
		}
	}
	if s.TotalSteps > 0 {
		p.PercentComplete = int(math.Round(float64(s.CompletedSteps) / float64(s.TotalSteps) * 100))
	}
	return p
}

// AreAllTasksComplete reports whether every task is in a terminal state and
// at least one task exists.
func (m *Manager) AreAllTasksComplete(ctx context.Context, sessionID string) (bool, error) {
	sess, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(sess.Tasks) == 0 {
		return false, nil
	}
	for i := range sess.Tasks {
		if !sess.Tasks[i].Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
