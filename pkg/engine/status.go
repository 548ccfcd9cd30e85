package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskState represents the lifecycle state of a single task.
type TaskState string

const (
	// TaskStatePending indicates the task has not started yet.
	TaskStatePending TaskState = "Pending"

	// TaskStateRunning indicates the task is currently executing.
	TaskStateRunning TaskState = "Running"

	// TaskStateCompleted indicates the task finished successfully.
	TaskStateCompleted TaskState = "Completed"

	// TaskStateFailed indicates the task failed; the status carries a reason.
	TaskStateFailed TaskState = "Failed"

	// TaskStateSkipped indicates the task never ran; the status carries a
	// reason, such as an upstream failure.
	TaskStateSkipped TaskState = "Skipped"
)

// IsTerminal returns true if the state is final.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateSkipped
}

// Validate checks if the task state is valid.
func (s TaskState) Validate() error {
	switch s {
	case TaskStatePending, TaskStateRunning, TaskStateCompleted, TaskStateFailed, TaskStateSkipped:
		return nil
	default:
		return fmt.Errorf("invalid task state: %s", s)
	}
}

// TaskStatus pairs a state with an optional reason. Reason is set only for
// Failed and Skipped.
type TaskStatus struct {
	State  TaskState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// Pending, Running and Completed are the reasonless statuses.
var (
	StatusPending   = TaskStatus{State: TaskStatePending}
	StatusRunning   = TaskStatus{State: TaskStateRunning}
	StatusCompleted = TaskStatus{State: TaskStateCompleted}
)

// StatusFailed creates a Failed status with the given reason.
func StatusFailed(reason string) TaskStatus {
	return TaskStatus{State: TaskStateFailed, Reason: reason}
}

// StatusSkipped creates a Skipped status with the given reason.
func StatusSkipped(reason string) TaskStatus {
	return TaskStatus{State: TaskStateSkipped, Reason: reason}
}

// WireString renders the status in its external form: the bare state name
// for reasonless states, "Failed: <reason>" and "Skipped: <reason>" otherwise.
func (s TaskStatus) WireString() string {
	switch s.State {
	case TaskStateFailed:
		return fmt.Sprintf("Failed: %s", s.Reason)
	case TaskStateSkipped:
		return fmt.Sprintf("Skipped: %s", s.Reason)
	default:
		return string(s.State)
	}
}

// ParseTaskStatus parses the external status form produced by WireString.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	switch {
	case raw == string(TaskStatePending):
		return StatusPending, nil
	case raw == string(TaskStateRunning):
		return StatusRunning, nil
	case raw == string(TaskStateCompleted):
		return StatusCompleted, nil
	case strings.HasPrefix(raw, "Failed: "):
		return StatusFailed(strings.TrimPrefix(raw, "Failed: ")), nil
	case strings.HasPrefix(raw, "Skipped: "):
		return StatusSkipped(strings.TrimPrefix(raw, "Skipped: ")), nil
	default:
		return TaskStatus{}, fmt.Errorf("invalid task status: %q", raw)
	}
}

// MarshalJSON renders the status in its external string form.
func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.WireString())
}

// UnmarshalJSON parses the external string form with validation.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseTaskStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SessionStatus represents the overall status of a generation session.
type SessionStatus string

const (
	// SessionStatusNotStarted indicates the session exists but generation
	// has not begun.
	SessionStatusNotStarted SessionStatus = "not_started"

	// SessionStatusPreparing indicates the task graph is being built.
	SessionStatusPreparing SessionStatus = "preparing"

	// SessionStatusRunning indicates tasks are executing.
	SessionStatusRunning SessionStatus = "running"

	// SessionStatusCompleted indicates every task finished successfully.
	SessionStatusCompleted SessionStatus = "completed"

	// SessionStatusFailed indicates at least one task failed.
	SessionStatusFailed SessionStatus = "failed"

	// SessionStatusCancelled indicates the session was cancelled by the user.
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal returns true if the session status represents a final state.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// IsActive returns true if the session is preparing or running.
func (s SessionStatus) IsActive() bool {
	return s == SessionStatusPreparing || s == SessionStatusRunning
}

// Validate checks if the session status is valid.
func (s SessionStatus) Validate() error {
	switch s {
	case SessionStatusNotStarted, SessionStatusPreparing, SessionStatusRunning,
		SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid session status: %s", s)
	}
}

// MarshalJSON implements type-safe enum serialization.
func (s SessionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements enum deserialization with validation.
func (s *SessionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = SessionStatus(str)
	return s.Validate()
}
