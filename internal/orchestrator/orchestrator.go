// Package orchestrator is the controller that turns a user message into a
// planned, delegated, and reported build run. It owns the conversation loop:
// load or create the session, consult the planning capability, apply its tool
// calls through the task graph and delegation executor, and report every step
// on the event stream, finishing with a done event.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/archive"
	"github.com/forgehq/forge/internal/delegate"
	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/lock"
	"github.com/forgehq/forge/internal/logging"
	"github.com/forgehq/forge/internal/session"
	"github.com/forgehq/forge/internal/stream"
	"github.com/forgehq/forge/internal/taskgraph"
)

// Tool names exposed to the planning capability.
const (
	ToolCreateProject   = "createProject"
	ToolCreateTaskList  = "createTaskList"
	ToolDelegateTask    = "delegateTaskToCodingAgent"
	ToolGetProgress     = "getSessionProgress"
	ToolCheckCompletion = "checkTaskCompletion"
)

// ProjectSpec describes the project a createProject call provisions.
type ProjectSpec struct {
	Name     string
	Template string
}

// ToolCall is one directive from the planning capability. Name selects the
// tool; the matching field carries its arguments.
type ToolCall struct {
	ID      string
	Name    string
	Project *ProjectSpec                // createProject
	Tasks   []taskgraph.CreateTaskInput // createTaskList
	TaskID  string                      // checkTaskCompletion
}

// Plan is the planning capability's response to a user message.
type Plan struct {
	// AssistantText is natural-language output streamed to the user and
	// appended to the conversation.
	AssistantText string

	// ToolCalls are applied in order.
	ToolCalls []ToolCall

	// Usage is token accounting for the planning call, carried into the
	// done event.
	Usage *stream.UsageMetadata
}

// Planner is the planning capability. It sees the session's conversation and
// decides which tools to invoke.
type Planner interface {
	Plan(ctx context.Context, s *session.Session, userMessage string) (*Plan, error)
}

// Orchestrator coordinates one build session across stateless instances.
type Orchestrator struct {
	sessions *session.Manager
	tasks    *taskgraph.Manager
	executor *delegate.Executor
	locks    *lock.Manager
	planner  Planner
	recorder archive.Recorder
	logger   *logging.Logger

	// requireLock makes delegation fail closed when the lock store is down.
	requireLock bool
}

// New creates an Orchestrator. recorder may be archive.Nop{}.
func New(sessions *session.Manager, tasks *taskgraph.Manager, executor *delegate.Executor, locks *lock.Manager, planner Planner, recorder archive.Recorder, logger *logging.Logger, requireLock bool) *Orchestrator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if recorder == nil {
		recorder = archive.Nop{}
	}
	return &Orchestrator{
		sessions:    sessions,
		tasks:       tasks,
		executor:    executor,
		locks:       locks,
		planner:     planner,
		recorder:    recorder,
		logger:      logger,
		requireLock: requireLock,
	}
}

// run carries the per-message state threaded through the tool dispatch.
type run struct {
	sess      *session.Session
	emitter   *stream.Emitter
	userID    string
	projectID string
	sandboxID string
}

// HandleMessage processes one user message end to end. The emitter always
// receives a terminal done event unless an infrastructure failure aborts the
// stream; planning failures are absorbed into the conversation instead of
// failing the session.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, projectID, content string, emitter *stream.Emitter) error {
	sess, err := o.sessions.LoadOrCreate(ctx, userID, projectID)
	if err != nil {
		emitter.Abort()
		return err
	}
	log := o.logger.WithSession(sess.ID)

	if err := emitter.Emit(stream.NewOrchestratorSessionEvent(sess.ID, string(sess.Status))); err != nil {
		return err
	}
	if err := o.sessions.AddMessage(ctx, sess.ID, session.RoleUser, content); err != nil {
		emitter.Abort()
		return err
	}

	_ = emitter.Emit(stream.NewOrchestratorPlanningEvent("started"))
	plan, err := o.planner.Plan(ctx, sess, content)
	if err != nil {
		// A failed planning call must not corrupt the session: record it
		// in the conversation and end the stream normally.
		log.Error("planning failed", "error", err.Error())
		_ = emitter.Emit(stream.NewOrchestratorPlanningEvent("failed"))
		msg := fmt.Sprintf("Planning failed: %s", err.Error())
		_ = emitter.Emit(stream.NewTextDeltaEvent(msg))
		if addErr := o.sessions.AddMessage(ctx, sess.ID, session.RoleAssistant, msg); addErr != nil {
			log.Error("recording planning failure failed", "error", addErr.Error())
		}
		emitter.Finish(nil)
		return nil
	}
	_ = emitter.Emit(stream.NewOrchestratorPlanningEvent("completed"))

	names := make([]string, 0, len(plan.ToolCalls))
	for _, tc := range plan.ToolCalls {
		names = append(names, tc.Name)
	}
	_ = emitter.Emit(stream.NewOrchestratorStepEvent("planning", names))

	if plan.AssistantText != "" {
		_ = emitter.Emit(stream.NewTextDeltaEvent(plan.AssistantText))
		if err := o.sessions.AddMessage(ctx, sess.ID, session.RoleAssistant, plan.AssistantText); err != nil {
			emitter.Abort()
			return err
		}
	}

	r := &run{sess: sess, emitter: emitter, userID: userID, projectID: projectID}
	for _, tc := range plan.ToolCalls {
		if err := o.applyToolCall(ctx, r, tc); err != nil {
			emitter.Abort()
			return err
		}
	}

	if err := o.finishSession(ctx, r); err != nil {
		emitter.Abort()
		return err
	}
	emitter.Finish(plan.Usage)
	return nil
}

// applyToolCall dispatches one planner directive, wrapping it in the
// tool-call event pair.
func (o *Orchestrator) applyToolCall(ctx context.Context, r *run, tc ToolCall) error {
	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}
	start := stream.NewToolCallStartEvent(tc.ID, tc.Name, toolArgs(tc))
	if err := r.emitter.Emit(start); err != nil {
		return err
	}

	result, err := o.dispatch(ctx, r, tc)
	if err != nil {
		_ = r.emitter.Emit(stream.NewToolCallCompleteEvent(tc.ID, tc.Name, stream.ToolCallError, nil, err.Error(), start.StartedAt))
		return err
	}
	_ = r.emitter.Emit(stream.NewToolCallCompleteEvent(tc.ID, tc.Name, stream.ToolCallSuccess, result, "", start.StartedAt))
	return nil
}

func toolArgs(tc ToolCall) map[string]any {
	args := map[string]any{}
	switch {
	case tc.Project != nil:
		args["name"] = tc.Project.Name
		args["template"] = tc.Project.Template
	case tc.Tasks != nil:
		args["count"] = len(tc.Tasks)
	case tc.TaskID != "":
		args["taskId"] = tc.TaskID
	}
	return args
}

func (o *Orchestrator) dispatch(ctx context.Context, r *run, tc ToolCall) (any, error) {
	switch tc.Name {
	case ToolCreateProject:
		return o.createProject(r, tc.Project)

	case ToolCreateTaskList:
		tasks, err := o.tasks.CreateTasks(ctx, r.sess.ID, tc.Tasks)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(tasks))
		for i := range tasks {
			ids[i] = tasks[i].ID
		}
		return map[string]any{"taskIds": ids}, nil

	case ToolDelegateTask:
		return o.runSchedule(ctx, r)

	case ToolGetProgress:
		progress, err := o.tasks.GetProgress(ctx, r.sess.ID)
		if err != nil {
			return nil, err
		}
		o.emitProgress(r.emitter, progress)
		return progress, nil

	case ToolCheckCompletion:
		task, err := o.tasks.GetTask(ctx, r.sess.ID, tc.TaskID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"status":   string(task.Status),
			"attempts": task.Attempts,
			"complete": task.Status == session.TaskCompleted,
		}, nil

	default:
		return nil, errors.NewValidationError("unknown tool").WithField("name").WithValue(tc.Name)
	}
}

// createProject records the sandbox the run builds into. Provisioning itself
// happens outside this module; the id threads through call context entries so
// any instance can resolve the sandbox for an in-flight call.
func (o *Orchestrator) createProject(r *run, spec *ProjectSpec) (any, error) {
	if spec == nil {
		return nil, errors.NewValidationError("createProject requires a project spec")
	}
	r.sandboxID = uuid.NewString()
	o.logger.WithSession(r.sess.ID).Info("project created",
		"name", spec.Name, "template", spec.Template, "sandbox_id", r.sandboxID)
	return map[string]any{"sandboxId": r.sandboxID}, nil
}

// runSchedule drains the ready queue: delegate the next ready task, retry
// failed attempts while budget remains, and report progress after every
// terminal transition. A per-session lock keeps two instances from delegating
// the same session's tasks concurrently.
func (o *Orchestrator) runSchedule(ctx context.Context, r *run) (any, error) {
	log := o.logger.WithSession(r.sess.ID)

	lease, err := o.locks.Acquire(ctx, "session:"+r.sess.ID, lock.Options{Require: o.requireLock})
	if err != nil {
		if errors.Is(err, errors.ErrLockTimeout) {
			// Another instance is already draining this session.
			log.Warn("session busy, delegation skipped")
			return map[string]any{"delegated": 0, "busy": true}, nil
		}
		return nil, err
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			log.Warn("lock release failed", "error", relErr.Error())
		}
	}()

	delegated := 0
	for {
		next, err := o.tasks.GetNextTask(ctx, r.sess.ID)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}

		result, err := o.executor.Execute(ctx, delegate.Request{
			SessionID:    r.sess.ID,
			UserID:       r.userID,
			ProjectID:    r.projectID,
			TaskID:       next.ID,
			Phase:        next.Phase,
			Description:  next.Description,
			Requirements: next.Requirements,
			Tier:         next.Tier,
			SandboxID:    r.sandboxID,
		}, r.emitter)
		if err != nil {
			return nil, err
		}
		delegated++

		if !result.Success {
			task, err := o.tasks.GetTask(ctx, r.sess.ID, next.ID)
			if err != nil {
				return nil, err
			}
			if taskgraph.CanRetry(task) {
				log.Info("retrying failed task", "task_id", task.ID, "attempt", task.Attempts)
				if err := o.tasks.ResetTask(ctx, r.sess.ID, task.ID); err != nil {
					return nil, err
				}
			} else {
				// Out of attempts: the task stays failed and anything
				// depending on it stays blocked. Independent branches
				// continue.
				log.Warn("task failed permanently", "task_id", task.ID, "attempts", task.Attempts)
			}
		}

		progress, err := o.tasks.GetProgress(ctx, r.sess.ID)
		if err != nil {
			return nil, err
		}
		o.emitProgress(r.emitter, progress)
	}

	return map[string]any{"delegated": delegated}, nil
}

// finishSession marks the session completed when every task succeeded and
// mirrors the final state to the archive. Archive failures are logged only.
func (o *Orchestrator) finishSession(ctx context.Context, r *run) error {
	log := o.logger.WithSession(r.sess.ID)

	sess, err := o.sessions.Get(ctx, r.sess.ID)
	if err != nil {
		return err
	}

	if len(sess.Tasks) > 0 {
		done := true
		for i := range sess.Tasks {
			if sess.Tasks[i].Status != session.TaskCompleted {
				done = false
				break
			}
		}
		if done && sess.Status != session.StatusCompleted {
			if err := o.sessions.UpdateStatus(ctx, sess.ID, session.StatusCompleted); err != nil {
				return err
			}
			sess.Status = session.StatusCompleted
		}
	}

	if err := o.recorder.RecordSession(ctx, sess); err != nil {
		log.Warn("session archive failed", "error", err.Error())
	}
	if err := o.recorder.RecordTasks(ctx, sess); err != nil {
		log.Warn("task archive failed", "error", err.Error())
	}
	return nil
}

func (o *Orchestrator) emitProgress(emitter *stream.Emitter, p taskgraph.Progress) {
	_ = emitter.Emit(stream.NewOrchestratorProgressEvent(p.Total, p.Completed, p.Failed, p.PercentComplete))
}
