// Package errors provides centralized error definitions and error handling
// utilities for the Forge codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: errors related to session state and persistence
//   - TaskError: errors related to the task dependency graph
//   - LockError: errors related to distributed lock leases
//   - DelegationError: errors related to handing tasks to the execution agent
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionNotFound)
//	err := errors.NewNotFoundError("task", "task-3")
//	err := errors.NewLockError("acquire failed", errors.ErrLockTimeout).WithKey("sandbox:p1")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrSessionNotFound) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrSessionExpired indicates that a session's expiry window has elapsed.
	ErrSessionExpired = New("session expired")
	// ErrSessionCorrupted indicates that session data cannot be parsed.
	ErrSessionCorrupted = New("session data corrupted")
	// ErrVersionConflict indicates a stale write rejected by optimistic
	// concurrency control; the caller should re-read and reapply.
	ErrVersionConflict = New("session version conflict")
)

// Task-related sentinel errors
var (
	// ErrTaskNotFound indicates that a task id is unknown within the session.
	ErrTaskNotFound = New("task not found")
	// ErrInvalidTransition indicates a status change the task state machine
	// does not allow.
	ErrInvalidTransition = New("invalid status transition")
	// ErrDependencyCycle indicates a circular dependency in the task graph.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrUnknownDependency indicates a task depends on an id not present in
	// the session's task collection.
	ErrUnknownDependency = New("unknown dependency")
	// ErrRetriesExhausted indicates a task has used all of its attempts.
	ErrRetriesExhausted = New("retries exhausted")
)

// Lock-related sentinel errors
var (
	// ErrLockTimeout indicates a lock was not acquired within the configured window.
	ErrLockTimeout = New("lock acquisition timed out")
	// ErrLockStoreUnavailable indicates the lock store could not be reached.
	ErrLockStoreUnavailable = New("lock store unavailable")
	// ErrLockNotHeld indicates a release attempt by a caller that no longer
	// owns the lease.
	ErrLockNotHeld = New("lock not held")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ForgeError is the base interface for all Forge errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type ForgeError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to session state and persistence.
//
// Example:
//
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionNotFound)
//	err = err.WithSessionID("abc123")
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.SessionID != "" {
		prefix = fmt.Sprintf("session error [session=%s]", e.SessionID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TaskError represents errors related to the task dependency graph.
//
// Example:
//
//	err := errors.NewTaskError("update failed", errors.ErrTaskNotFound)
//	err = err.WithTaskID("task-3").WithPhase("implement")
type TaskError struct {
	baseError
	TaskID string
	Phase  string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithPhase adds a phase name to the error context.
func (e *TaskError) WithPhase(phase string) *TaskError {
	e.Phase = phase
	return e
}

// WithSeverity sets the error severity.
func (e *TaskError) WithSeverity(s Severity) *TaskError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *TaskError) WithRetryable(r bool) *TaskError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}

	prefix := "task error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("task error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LockError represents errors related to distributed lock leases.
//
// Example:
//
//	err := errors.NewLockError("acquire failed", errors.ErrLockTimeout)
//	err = err.WithKey("sandbox:proj-1").WithHolder("f3a9...")
type LockError struct {
	baseError
	Key    string
	Holder string
}

// NewLockError creates a new LockError.
func NewLockError(message string, cause error) *LockError {
	return &LockError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: false,
		},
	}
}

// WithKey adds the lock key to the error context.
func (e *LockError) WithKey(key string) *LockError {
	e.Key = key
	return e
}

// WithHolder adds the current holder token to the error context.
func (e *LockError) WithHolder(holder string) *LockError {
	e.Holder = holder
	return e
}

// WithSeverity sets the error severity.
func (e *LockError) WithSeverity(s Severity) *LockError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *LockError) WithRetryable(r bool) *LockError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	if e.Holder != "" {
		parts = append(parts, fmt.Sprintf("holder=%s", e.Holder))
	}

	prefix := "lock error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("lock error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *LockError) Is(target error) bool {
	if _, ok := target.(*LockError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// DelegationError represents errors raised while handing a task to the
// execution agent. These carry the task context so the controller can decide
// between retry and terminal failure.
//
// Example:
//
//	err := errors.NewDelegationError("executor crashed", cause).WithTaskID("task-2")
type DelegationError struct {
	baseError
	SessionID string
	TaskID    string
}

// NewDelegationError creates a new DelegationError.
// Delegation failures are retryable by default; the controller consults the
// task's attempt budget before actually retrying.
func NewDelegationError(message string, cause error) *DelegationError {
	return &DelegationError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *DelegationError) WithSessionID(id string) *DelegationError {
	e.SessionID = id
	return e
}

// WithTaskID adds a task ID to the error context.
func (e *DelegationError) WithTaskID(id string) *DelegationError {
	e.TaskID = id
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *DelegationError) WithRetryable(r bool) *DelegationError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *DelegationError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}

	prefix := "delegation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("delegation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *DelegationError) Is(target error) bool {
	if _, ok := target.(*DelegationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("session", "abc123")
//	fmt.Println(err) // "session 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	switch e.ResourceType {
	case "session":
		if errors.Is(target, ErrSessionNotFound) {
			return true
		}
	case "task":
		if errors.Is(target, ErrTaskNotFound) {
			return true
		}
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("task id cannot be empty")
//	err = err.WithField("taskID").WithValue("")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for lock", 10*time.Second)
//	fmt.Println(err) // "timeout error: waiting for lock (timeout: 10s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing ForgeError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout or ErrVersionConflict
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    time.Sleep(backoff)
//	    return retry(operation)
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var forgeErr ForgeError
	if As(err, &forgeErr) {
		return forgeErr.IsRetryable()
	}

	// Version conflicts resolve by re-reading; timeouts by waiting.
	if Is(err, ErrTimeout) || Is(err, ErrVersionConflict) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end
// users. Semantic errors are always user-facing.
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    displayToUser(err.Error())
//	} else {
//	    displayToUser("An internal error occurred")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var forgeErr ForgeError
	if As(err, &forgeErr) {
		return forgeErr.IsUserFacing()
	}

	var notFound *NotFoundError
	var validation *ValidationError
	var timeout *TimeoutError

	if As(err, &notFound) || As(err, &validation) || As(err, &timeout) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ForgeError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var forgeErr ForgeError
	if As(err, &forgeErr) {
		return forgeErr.Severity()
	}

	return SeverityError
}

// IsNotFound returns true if the error indicates an unknown session or task.
// NotFound errors are fatal to the current call and must never be retried
// or silently ignored.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *NotFoundError
	return As(err, &notFound) || Is(err, ErrSessionNotFound) || Is(err, ErrTaskNotFound)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to process request")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to process session %s", sessionID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
