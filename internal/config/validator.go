package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "lock.ttl_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"DEBUG", "INFO", "WARN", "ERROR"}
}

// ValidSessionDrivers returns the list of valid session store drivers
func ValidSessionDrivers() []string {
	return []string{"redis", "memory"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateCallContext()...)
	errors = append(errors, c.validateTask()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.TTLHours <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.ttl_hours",
			Value:   c.Session.TTLHours,
			Message: "must be positive",
		})
	}
	if !slices.Contains(ValidSessionDrivers(), c.Session.Driver) {
		errors = append(errors, ValidationError{
			Field:   "session.driver",
			Value:   c.Session.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSessionDrivers(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.TTLMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.ttl_ms",
			Value:   c.Lock.TTLMs,
			Message: "must be positive",
		})
	}
	if c.Lock.TimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.timeout_ms",
			Value:   c.Lock.TimeoutMs,
			Message: "must be positive",
		})
	}
	if c.Lock.RetryIntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.retry_interval_ms",
			Value:   c.Lock.RetryIntervalMs,
			Message: "must be positive",
		})
	}
	// A lease shorter than the acquisition timeout means waiters can outlive
	// the holder's lease, defeating the mutual-exclusion window.
	if c.Lock.TTLMs > 0 && c.Lock.TimeoutMs > 0 && c.Lock.TTLMs < c.Lock.TimeoutMs {
		errors = append(errors, ValidationError{
			Field:   "lock.ttl_ms",
			Value:   c.Lock.TTLMs,
			Message: fmt.Sprintf("must be >= lock.timeout_ms (%d)", c.Lock.TimeoutMs),
		})
	}

	return errors
}

func (c *Config) validateCallContext() []ValidationError {
	var errors []ValidationError

	if c.CallContext.TTLMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "call_context.ttl_minutes",
			Value:   c.CallContext.TTLMinutes,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateTask() []ValidationError {
	var errors []ValidationError

	if c.Task.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "task.max_attempts",
			Value:   c.Task.MaxAttempts,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	level := strings.ToUpper(c.Logging.Level)
	if !slices.Contains(ValidLogLevels(), level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
