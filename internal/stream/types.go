// Package stream defines the typed, ordered event protocol used to report
// orchestration progress to a single client connection. Events are delivered
// in emission order on one channel, exactly once, with a Done event always
// last; a channel that closes without Done signals abnormal termination.
package stream

import "time"

// Event is the interface all stream events implement.
type Event interface {
	// EventType returns the wire identifier for this event type.
	EventType() string

	// Timestamp returns when the event was emitted.
	Timestamp() time.Time
}

// Event type identifiers as they appear on the wire.
const (
	TypeTextDelta = "text-delta"

	TypeToolCallStart    = "tool-call-start"
	TypeToolCallComplete = "tool-call-complete"

	TypeFileStreamStart    = "file-stream-start"
	TypeFileStreamDelta    = "file-stream-delta"
	TypeFileStreamComplete = "file-stream-complete"

	TypeAgentPhase       = "agent-phase"
	TypeAgentReasoning   = "agent-reasoning"
	TypeAgentObservation = "agent-observation"
	TypeAgentReflection  = "agent-reflection"

	TypeOrchestratorSession       = "orchestrator-session"
	TypeOrchestratorStep          = "orchestrator-step"
	TypeOrchestratorPlanning      = "orchestrator-planning"
	TypeOrchestratorDelegation    = "orchestrator-delegation"
	TypeOrchestratorTaskCompleted = "orchestrator-task-completed"
	TypeOrchestratorProgress      = "orchestrator-progress"

	TypeDone = "done"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Text Events
// -----------------------------------------------------------------------------

// TextDeltaEvent carries incremental natural-language output.
type TextDeltaEvent struct {
	baseEvent
	Content string
}

// NewTextDeltaEvent creates a TextDeltaEvent.
func NewTextDeltaEvent(content string) TextDeltaEvent {
	return TextDeltaEvent{
		baseEvent: newBaseEvent(TypeTextDelta),
		Content:   content,
	}
}

// -----------------------------------------------------------------------------
// Tool Call Events
// -----------------------------------------------------------------------------

// ToolCallStatus is the outcome of a completed tool call.
type ToolCallStatus string

const (
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallError   ToolCallStatus = "error"
)

// ToolCallStartEvent marks the beginning of a tool invocation. It is always
// paired with a ToolCallCompleteEvent carrying the same ID.
type ToolCallStartEvent struct {
	baseEvent
	ID        string
	Name      string
	Args      map[string]any
	StartedAt time.Time
}

// NewToolCallStartEvent creates a ToolCallStartEvent.
func NewToolCallStartEvent(id, name string, args map[string]any) ToolCallStartEvent {
	base := newBaseEvent(TypeToolCallStart)
	return ToolCallStartEvent{
		baseEvent: base,
		ID:        id,
		Name:      name,
		Args:      args,
		StartedAt: base.timestamp,
	}
}

// ToolCallCompleteEvent closes a tool invocation.
// Duration is computed from the paired start time.
type ToolCallCompleteEvent struct {
	baseEvent
	ID          string
	Name        string
	Status      ToolCallStatus
	Result      any
	Error       string
	CompletedAt time.Time
	Duration    time.Duration
}

// NewToolCallCompleteEvent creates a ToolCallCompleteEvent for the call that
// started at startedAt.
func NewToolCallCompleteEvent(id, name string, status ToolCallStatus, result any, errMsg string, startedAt time.Time) ToolCallCompleteEvent {
	base := newBaseEvent(TypeToolCallComplete)
	return ToolCallCompleteEvent{
		baseEvent:   base,
		ID:          id,
		Name:        name,
		Status:      status,
		Result:      result,
		Error:       errMsg,
		CompletedAt: base.timestamp,
		Duration:    base.timestamp.Sub(startedAt),
	}
}

// -----------------------------------------------------------------------------
// File Stream Events
// -----------------------------------------------------------------------------

// FileStreamStartEvent opens a streamed file. For any single path the
// sequence is exactly start, zero or more deltas, complete.
type FileStreamStartEvent struct {
	baseEvent
	Path       string
	Language   string
	IsNew      bool
	ToolCallID string
}

// NewFileStreamStartEvent creates a FileStreamStartEvent.
func NewFileStreamStartEvent(path, language string, isNew bool, toolCallID string) FileStreamStartEvent {
	return FileStreamStartEvent{
		baseEvent:  newBaseEvent(TypeFileStreamStart),
		Path:       path,
		Language:   language,
		IsNew:      isNew,
		ToolCallID: toolCallID,
	}
}

// FileStreamDeltaEvent carries one chunk of file content. Concatenating the
// deltas for a path reproduces the complete file.
type FileStreamDeltaEvent struct {
	baseEvent
	Path         string
	ContentDelta string
	ToolCallID   string
}

// NewFileStreamDeltaEvent creates a FileStreamDeltaEvent.
func NewFileStreamDeltaEvent(path, contentDelta, toolCallID string) FileStreamDeltaEvent {
	return FileStreamDeltaEvent{
		baseEvent:    newBaseEvent(TypeFileStreamDelta),
		Path:         path,
		ContentDelta: contentDelta,
		ToolCallID:   toolCallID,
	}
}

// FileStreamCompleteEvent closes a streamed file with its full content.
type FileStreamCompleteEvent struct {
	baseEvent
	Path       string
	Content    string
	Language   string
	IsNew      bool
	ToolCallID string
}

// NewFileStreamCompleteEvent creates a FileStreamCompleteEvent.
func NewFileStreamCompleteEvent(path, content, language string, isNew bool, toolCallID string) FileStreamCompleteEvent {
	return FileStreamCompleteEvent{
		baseEvent:  newBaseEvent(TypeFileStreamComplete),
		Path:       path,
		Content:    content,
		Language:   language,
		IsNew:      isNew,
		ToolCallID: toolCallID,
	}
}

// -----------------------------------------------------------------------------
// Agent Events
// -----------------------------------------------------------------------------

// AgentPhase is a step of the agent's reasoning loop.
type AgentPhase string

const (
	PhaseThink   AgentPhase = "think"
	PhaseAct     AgentPhase = "act"
	PhaseObserve AgentPhase = "observe"
	PhaseReflect AgentPhase = "reflect"
)

// AgentPhaseEvent announces which reasoning phase the agent entered.
type AgentPhaseEvent struct {
	baseEvent
	Phase AgentPhase
}

// NewAgentPhaseEvent creates an AgentPhaseEvent.
func NewAgentPhaseEvent(phase AgentPhase) AgentPhaseEvent {
	return AgentPhaseEvent{
		baseEvent: newBaseEvent(TypeAgentPhase),
		Phase:     phase,
	}
}

// AgentReasoningEvent carries the agent's reasoning text for a phase.
type AgentReasoningEvent struct {
	baseEvent
	Phase   AgentPhase
	Content string
}

// NewAgentReasoningEvent creates an AgentReasoningEvent.
func NewAgentReasoningEvent(phase AgentPhase, content string) AgentReasoningEvent {
	return AgentReasoningEvent{
		baseEvent: newBaseEvent(TypeAgentReasoning),
		Phase:     phase,
		Content:   content,
	}
}

// AgentObservationEvent reports something the agent observed, optionally
// tied to a tool call.
type AgentObservationEvent struct {
	baseEvent
	ObservationType string
	Content         string
	RelatedToolID   string
}

// NewAgentObservationEvent creates an AgentObservationEvent.
func NewAgentObservationEvent(observationType, content, relatedToolID string) AgentObservationEvent {
	return AgentObservationEvent{
		baseEvent:       newBaseEvent(TypeAgentObservation),
		ObservationType: observationType,
		Content:         content,
		RelatedToolID:   relatedToolID,
	}
}

// AgentReflectionEvent carries the agent's self-assessment.
type AgentReflectionEvent struct {
	baseEvent
	Insight          string
	Learnings        []string
	SuggestedActions []string
	Confidence       float64
}

// NewAgentReflectionEvent creates an AgentReflectionEvent.
// Confidence is clamped into [0, 1] before emission.
func NewAgentReflectionEvent(insight string, learnings, suggestedActions []string, confidence float64) AgentReflectionEvent {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return AgentReflectionEvent{
		baseEvent:        newBaseEvent(TypeAgentReflection),
		Insight:          insight,
		Learnings:        learnings,
		SuggestedActions: suggestedActions,
		Confidence:       confidence,
	}
}

// -----------------------------------------------------------------------------
// Orchestrator Events
// -----------------------------------------------------------------------------

// OrchestratorSessionEvent announces the session an orchestration run is
// bound to and its current status.
type OrchestratorSessionEvent struct {
	baseEvent
	SessionID string
	Status    string
}

// NewOrchestratorSessionEvent creates an OrchestratorSessionEvent.
func NewOrchestratorSessionEvent(sessionID, status string) OrchestratorSessionEvent {
	return OrchestratorSessionEvent{
		baseEvent: newBaseEvent(TypeOrchestratorSession),
		SessionID: sessionID,
		Status:    status,
	}
}

// OrchestratorStepEvent reports one controller step and the tool calls it
// issued.
type OrchestratorStepEvent struct {
	baseEvent
	StepType  string
	ToolCalls []string
}

// NewOrchestratorStepEvent creates an OrchestratorStepEvent.
func NewOrchestratorStepEvent(stepType string, toolCalls []string) OrchestratorStepEvent {
	return OrchestratorStepEvent{
		baseEvent: newBaseEvent(TypeOrchestratorStep),
		StepType:  stepType,
		ToolCalls: toolCalls,
	}
}

// OrchestratorPlanningEvent reports the planning capability's status.
type OrchestratorPlanningEvent struct {
	baseEvent
	Status string
}

// NewOrchestratorPlanningEvent creates an OrchestratorPlanningEvent.
func NewOrchestratorPlanningEvent(status string) OrchestratorPlanningEvent {
	return OrchestratorPlanningEvent{
		baseEvent: newBaseEvent(TypeOrchestratorPlanning),
		Status:    status,
	}
}

// OrchestratorDelegationEvent marks the hand-off of one task to the
// execution capability. Always paired with an OrchestratorTaskCompletedEvent
// for the same task attempt.
type OrchestratorDelegationEvent struct {
	baseEvent
	TaskID string
}

// NewOrchestratorDelegationEvent creates an OrchestratorDelegationEvent.
func NewOrchestratorDelegationEvent(taskID string) OrchestratorDelegationEvent {
	return OrchestratorDelegationEvent{
		baseEvent: newBaseEvent(TypeOrchestratorDelegation),
		TaskID:    taskID,
	}
}

// OrchestratorTaskCompletedEvent closes a delegated task attempt,
// success or failure.
type OrchestratorTaskCompletedEvent struct {
	baseEvent
	TaskID  string
	Success bool
}

// NewOrchestratorTaskCompletedEvent creates an OrchestratorTaskCompletedEvent.
func NewOrchestratorTaskCompletedEvent(taskID string, success bool) OrchestratorTaskCompletedEvent {
	return OrchestratorTaskCompletedEvent{
		baseEvent: newBaseEvent(TypeOrchestratorTaskCompleted),
		TaskID:    taskID,
		Success:   success,
	}
}

// OrchestratorProgressEvent reports aggregate task progress.
type OrchestratorProgressEvent struct {
	baseEvent
	TotalTasks      int
	CompletedTasks  int
	FailedTasks     int
	PercentComplete int
}

// NewOrchestratorProgressEvent creates an OrchestratorProgressEvent.
func NewOrchestratorProgressEvent(total, completed, failed, percent int) OrchestratorProgressEvent {
	return OrchestratorProgressEvent{
		baseEvent:       newBaseEvent(TypeOrchestratorProgress),
		TotalTasks:      total,
		CompletedTasks:  completed,
		FailedTasks:     failed,
		PercentComplete: percent,
	}
}

// -----------------------------------------------------------------------------
// Done Event
// -----------------------------------------------------------------------------

// UsageMetadata summarizes token usage for a completed run.
type UsageMetadata struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DoneEvent is always the final event of a run; no further events follow it
// on the same channel.
type DoneEvent struct {
	baseEvent
	Metadata *UsageMetadata
}

// NewDoneEvent creates a DoneEvent.
func NewDoneEvent(metadata *UsageMetadata) DoneEvent {
	return DoneEvent{
		baseEvent: newBaseEvent(TypeDone),
		Metadata:  metadata,
	}
}
