package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a generation failure for resume logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure that may succeed on a later
	// attempt. Examples: a scaffolding command exiting non-zero because of
	// a flaky network install, a command timeout.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a structural failure that re-running
	// cannot fix. Examples: invalid project configuration, an unknown
	// framework ID, a dependency cycle.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError is a classified error with task context. The class determines
// whether a failed session is offered for resumption.
type EngineError struct {
	// Class is the error classification for resume logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Task is the task ID that produced the error, when applicable.
	Task string `json:"task,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("[%s] %s (task=%s)%s", e.Class, e.Message, e.Task, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithTask adds task context to an error.
func (e *EngineError) WithTask(taskID string) *EngineError {
	e.Task = taskID
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeCommandFailed    = "COMMAND_FAILED"
	ErrCodeSpawnFailed      = "SPAWN_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
)
