// Package delegate hands a single task to the execution capability and
// reports its lifecycle on the event stream. One Execute call is one attempt:
// retry policy lives with the caller.
package delegate

import (
	"context"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/callctx"
	"github.com/forgehq/forge/internal/errors"
	"github.com/forgehq/forge/internal/logging"
	"github.com/forgehq/forge/internal/session"
	"github.com/forgehq/forge/internal/stream"
	"github.com/forgehq/forge/internal/taskgraph"
)

// Update is one increment of executor output. Text carries incremental
// natural-language output; File carries a produced file to stream.
type Update struct {
	Text string
	File *FileUpdate
}

// FileUpdate is a file the executor produced.
type FileUpdate struct {
	Path     string
	Content  string
	Language string
	IsNew    bool
}

// CoderResult is the execution capability's verdict for one attempt.
type CoderResult struct {
	Success      bool
	Output       string
	FilesCreated []string
	ErrorMessage string
}

// Coder is the execution capability. Execute runs the instruction, calling
// emit for each incremental update, and returns the final result. A non-nil
// error means the capability itself failed, not that the task's work failed.
type Coder interface {
	Execute(ctx context.Context, instruction string, emit func(Update)) (*CoderResult, error)
}

// Request identifies the task to delegate and the context it runs in.
type Request struct {
	SessionID    string
	UserID       string
	ProjectID    string
	TaskID       string
	Phase        session.Phase
	Description  string
	Requirements []string
	Tier         session.Tier
	SandboxID    string
}

// Result is the outcome of one delegation attempt.
type Result struct {
	Success      bool
	Output       string
	FilesCreated []string
	Error        string
}

// Executor delegates tasks to a Coder, recording state transitions in the
// task graph and call context entries for the duration of the call.
type Executor struct {
	tasks  *taskgraph.Manager
	calls  *callctx.Store
	coder  Coder
	logger *logging.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(tasks *taskgraph.Manager, calls *callctx.Store, coder Coder, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Executor{tasks: tasks, calls: calls, coder: coder, logger: logger}
}

// Execute runs one attempt of the task. It always emits the
// delegation-started / task-completed event pair, even when the attempt
// fails, so stream consumers can pair every hand-off with an outcome. The
// returned Result mirrors what was recorded on the task; the error return is
// reserved for infrastructure failures (session store, invalid transitions).
func (e *Executor) Execute(ctx context.Context, req Request, emitter *stream.Emitter) (*Result, error) {
	log := e.logger.WithSession(req.SessionID).WithTask(req.TaskID).WithPhase(string(req.Phase))

	if err := emitter.Emit(stream.NewOrchestratorDelegationEvent(req.TaskID)); err != nil {
		return nil, err
	}

	callID := uuid.NewString()
	if err := e.calls.Register(ctx, callctx.Entry{
		SessionID: req.SessionID,
		CallID:    callID,
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		SandboxID: req.SandboxID,
		TaskID:    req.TaskID,
		ToolName:  "delegateTaskToCodingAgent",
	}); err != nil {
		// Call context is a resolution aid, not a correctness requirement.
		log.Warn("call context registration failed", "error", err.Error())
	}
	defer func() {
		if err := e.calls.Unregister(context.WithoutCancel(ctx), req.SessionID, callID); err != nil {
			log.Warn("call context cleanup failed", "error", err.Error())
		}
	}()

	inProgress := session.TaskInProgress
	if _, err := e.tasks.UpdateTask(ctx, req.SessionID, req.TaskID, taskgraph.Patch{Status: &inProgress}); err != nil {
		e.emitCompleted(emitter, req.TaskID, false)
		return nil, err
	}
	attempts, err := e.tasks.IncrementAttempts(ctx, req.SessionID, req.TaskID)
	if err != nil {
		e.emitCompleted(emitter, req.TaskID, false)
		return nil, err
	}
	log.Info("task delegated", "attempt", attempts)

	instruction := BuildInstruction(req.Phase, req.Tier, req.Description, req.Requirements)
	coderResult, coderErr := e.coder.Execute(ctx, instruction, func(u Update) {
		if u.Text != "" {
			_ = emitter.Emit(stream.NewTextDeltaEvent(u.Text))
		}
		if u.File != nil {
			if err := stream.StreamFile(emitter, u.File.Path, u.File.Content, u.File.Language, u.File.IsNew, callID, 0); err != nil {
				log.Warn("file stream interrupted", "path", u.File.Path, "error", err.Error())
			}
		}
	})
	if coderErr != nil {
		coderResult = &CoderResult{
			Success:      false,
			ErrorMessage: coderErr.Error(),
		}
	}

	result := &Result{
		Success:      coderResult.Success,
		Output:       coderResult.Output,
		FilesCreated: coderResult.FilesCreated,
		Error:        coderResult.ErrorMessage,
	}

	if err := e.recordOutcome(ctx, req, coderResult); err != nil {
		e.emitCompleted(emitter, req.TaskID, false)
		return nil, err
	}
	e.emitCompleted(emitter, req.TaskID, result.Success)

	if result.Success {
		log.Info("task completed", "files", len(result.FilesCreated))
	} else {
		log.Warn("task attempt failed", "error", result.Error)
	}
	return result, nil
}

// recordOutcome writes the terminal status for this attempt back to the task
// graph.
func (e *Executor) recordOutcome(ctx context.Context, req Request, cr *CoderResult) error {
	if cr.Success {
		completed := session.TaskCompleted
		_, err := e.tasks.UpdateTask(ctx, req.SessionID, req.TaskID, taskgraph.Patch{
			Status: &completed,
			Result: &session.TaskResult{
				Success:       true,
				FilesCreated:  cr.FilesCreated,
				CommandOutput: cr.Output,
			},
		})
		return err
	}

	failed := session.TaskFailed
	msg := cr.ErrorMessage
	if msg == "" {
		msg = "task execution failed"
	}
	// The result is set once execution finishes, success or failure; a
	// failed attempt records its error list alongside whatever partial
	// output it produced.
	_, err := e.tasks.UpdateTask(ctx, req.SessionID, req.TaskID, taskgraph.Patch{
		Status: &failed,
		Result: &session.TaskResult{
			Success:       false,
			FilesCreated:  cr.FilesCreated,
			CommandOutput: cr.Output,
			Errors:        []string{msg},
		},
		ErrorMessage: &msg,
	})
	if err != nil {
		return errors.NewDelegationError("record task failure", err).
			WithSessionID(req.SessionID).WithTaskID(req.TaskID)
	}
	return nil
}

func (e *Executor) emitCompleted(emitter *stream.Emitter, taskID string, success bool) {
	_ = emitter.Emit(stream.NewOrchestratorTaskCompletedEvent(taskID, success))
}
