// Package session owns the durable conversation state for one orchestration
// run: the message history, the task collection, and the bookkeeping counters
// used for progress reporting. All other components mutate a session only
// through this package's Store and Manager, never by holding their own copy
// across requests.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the session lifecycle state.
type Status string

const (
	// StatusActive means the session is accepting messages and task work.
	StatusActive Status = "active"
	// StatusCompleted means the orchestration run ended normally.
	StatusCompleted Status = "completed"
	// StatusExpired means the 24-hour window elapsed; the session is
	// eligible for garbage collection.
	StatusExpired Status = "expired"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single conversation turn.
// The history is append-only during a session.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatus represents the current state of a task in the dependency graph.
type TaskStatus string

const (
	// TaskPending indicates the task is waiting for its dependencies.
	TaskPending TaskStatus = "pending"

	// TaskInProgress indicates the task has been delegated and is executing.
	// At most one task per session holds this status.
	TaskInProgress TaskStatus = "in-progress"

	// TaskCompleted indicates the task finished successfully. Terminal.
	TaskCompleted TaskStatus = "completed"

	// TaskFailed indicates the task failed. Terminal.
	TaskFailed TaskStatus = "failed"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
// Only an explicit reset moves a task out of a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Phase is a coarse task category label. It affects the wording of the
// delegated instruction, never scheduling.
type Phase string

const (
	PhaseSetup      Phase = "setup"
	PhaseInitialize Phase = "initialize"
	PhaseImplement  Phase = "implement"
	PhaseBuild      Phase = "build"
	PhasePreview    Phase = "preview"
)

// Tier is an execution-cost/quality hint forwarded to the execution
// capability. No scheduling effect.
type Tier string

const (
	TierFast   Tier = "fast"
	TierExpert Tier = "expert"
)

// DefaultMaxAttempts is the attempt budget a task receives unless the
// planner specifies one.
const DefaultMaxAttempts = 3

// TaskResult is the structured outcome of one task execution, set once the
// delegated run finishes.
type TaskResult struct {
	Success       bool           `json:"success"`
	FilesCreated  []string       `json:"files_created,omitempty"`
	CommandOutput string         `json:"command_output,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Task is one node in the session's dependency graph.
type Task struct {
	// ID is unique within the session.
	ID string `json:"id"`

	// Phase categorizes the task for instruction wording.
	Phase Phase `json:"phase"`

	// Description is the free-text instruction for the delegated executor.
	Description string `json:"description"`

	// Status is the current state-machine position.
	Status TaskStatus `json:"status"`

	// DependsOn lists task ids that must be completed before this task is
	// ready. Every id must exist in the same session's task collection.
	DependsOn []string `json:"depends_on"`

	// Tier is forwarded to the execution capability.
	Tier Tier `json:"tier"`

	// Requirements are extra constraints for the executor, appended to the
	// task's instruction.
	Requirements []string `json:"requirements,omitempty"`

	// Attempts counts executions so far; MaxAttempts is the retry budget.
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// Result is set once execution finishes, success or failure.
	Result *TaskResult `json:"result,omitempty"`

	// ErrorMessage holds the most recent failure detail.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Session represents all serializable orchestration state for one
// conversation. It is persisted as a single versioned blob; Version is the
// optimistic-concurrency stamp checked on every Update so concurrent writers
// cannot silently lose updates.
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
	Status    Status `json:"status"`

	ConversationHistory []Message `json:"conversation_history"`
	Tasks               []Task    `json:"tasks"`

	// CompletedTaskIDs and FailedTaskIDs are derived bookkeeping kept
	// consistent with each task's status.
	CompletedTaskIDs []string `json:"completed_task_ids"`
	FailedTaskIDs    []string `json:"failed_task_ids"`

	// TotalSteps and CompletedSteps are monotonic counters for
	// percent-complete reporting.
	TotalSteps     int `json:"total_steps"`
	CompletedSteps int `json:"completed_steps"`

	// CurrentTaskID names the single in-progress task, or is empty.
	CurrentTaskID string `json:"current_task_id,omitempty"`

	// MessageCount and LastMessage are recomputed on every mutation for
	// cheap external querying without deserializing the full blob.
	MessageCount int    `json:"message_count"`
	LastMessage  string `json:"last_message,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	ExpiresAt  time.Time `json:"expires_at"`

	// Version is monotonically increasing; managed by the Store.
	Version int64 `json:"version"`
}

// New constructs a fresh active session with empty history and tasks and the
// given expiry window.
func New(userID, projectID string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:                  uuid.NewString(),
		UserID:              userID,
		ProjectID:           projectID,
		Status:              StatusActive,
		ConversationHistory: []Message{},
		Tasks:               []Task{},
		CompletedTaskIDs:    []string{},
		FailedTaskIDs:       []string{},
		CreatedAt:           now,
		LastActive:          now,
		ExpiresAt:           now.Add(ttl),
	}
}

// IsExpired reports whether the session's expiry window has elapsed.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// FindTask returns a pointer to the task with the given id, or nil if the id
// is unknown. The pointer aliases the session's task slice so callers can
// mutate in place before persisting.
func (s *Session) FindTask(taskID string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == taskID {
			return &s.Tasks[i]
		}
	}
	return nil
}

// HasCompleted reports whether the given task id is in the completed set.
func (s *Session) HasCompleted(taskID string) bool {
	for _, id := range s.CompletedTaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Touch refreshes the activity timestamp and derived message fields.
func (s *Session) Touch() {
	s.LastActive = time.Now()
	s.MessageCount = len(s.ConversationHistory)
	if n := len(s.ConversationHistory); n > 0 {
		s.LastMessage = s.ConversationHistory[n-1].Content
	}
}
