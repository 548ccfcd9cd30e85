package engine

import (
	"encoding/json"
	"time"
)

// ProjectConfig describes the project to generate. It is the input to
// validation and to task graph construction.
type ProjectConfig struct {
	// Name is the project name, used as the scaffold directory name and
	// substituted into interactive CLI answers.
	Name string `json:"name" validate:"required"`

	// Path is the parent directory the project is created under.
	Path string `json:"path" validate:"required"`

	// FrameworkID selects the framework definition from the catalog.
	FrameworkID string `json:"framework_id" validate:"required"`

	// Modules are the selected feature modules with their options.
	Modules []ModuleSelection `json:"modules"`

	// Options carries framework-level option values keyed by option ID.
	Options map[string]json.RawMessage `json:"options,omitempty"`
}

// ModuleSelection is one chosen module and its configured option values.
type ModuleSelection struct {
	ID      string                     `json:"id" validate:"required"`
	Options map[string]json.RawMessage `json:"options,omitempty"`
}

// Task is one unit of work in the generation graph.
type Task struct {
	// ID uniquely identifies the task within the session.
	ID string `json:"id"`

	// Name is the human-readable task name shown in progress output.
	Name string `json:"name"`

	// Description explains what the task does.
	Description string `json:"description,omitempty"`

	// Status is the current lifecycle status.
	Status TaskStatus `json:"status"`

	// Progress is the task-local completion fraction in [0, 1].
	Progress float64 `json:"progress"`

	// DependencyIDs are the tasks that must complete before this one runs.
	DependencyIDs []string `json:"dependency_ids,omitempty"`
}

// LogEntry is one line of session output, either from the engine or captured
// from a command.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// SessionSnapshot is a point-in-time copy of session state, safe for the
// caller to retain. Progress is expressed in [0, 100].
type SessionSnapshot struct {
	SessionID     string        `json:"session_id"`
	ProjectName   string        `json:"project_name"`
	Status        SessionStatus `json:"status"`
	Progress      float64       `json:"progress"`
	CurrentTaskID string        `json:"current_task_id,omitempty"`
	Tasks         []Task        `json:"tasks"`
	Resumable     bool          `json:"resumable"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}

// Options tunes scheduler behavior.
type Options struct {
	// MaxParallel bounds how many eligible tasks run at once. Zero or one
	// means strictly sequential execution.
	MaxParallel int `json:"max_parallel"`

	// CommandRetries is how many extra attempts a failed module command
	// gets before the task fails.
	CommandRetries int `json:"command_retries"`

	// CommandRetryDelay is the pause between retry attempts.
	CommandRetryDelay time.Duration `json:"command_retry_delay"`
}

// DefaultOptions returns the scheduler defaults: sequential execution with
// two retries per module command.
func DefaultOptions() Options {
	return Options{
		MaxParallel:       1,
		CommandRetries:    2,
		CommandRetryDelay: 2 * time.Second,
	}
}

// ValidationIssue is one problem found while validating a project config.
type ValidationIssue struct {
	// Field is the config element the issue concerns, when identifiable.
	Field string `json:"field,omitempty"`

	// Message describes the problem, naming the entities involved.
	Message string `json:"message"`
}

// ValidationResult is the outcome of config validation. An invalid config
// lists every issue found, not just the first.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// TaskGraph is the validated execution graph for a session.
type TaskGraph struct {
	// Tasks maps task ID to task, in their initial Pending state.
	Tasks map[string]*Task

	// Order lists task IDs in a valid topological order.
	Order []string

	// Levels groups task IDs by execution level. Tasks within a level have
	// no dependency relationship and may run concurrently.
	Levels [][]string

	// Dependents maps a task ID to the IDs that depend on it.
	Dependents map[string][]string
}

// Snapshot returns a deep copy of the graph's tasks in topological order.
func (g *TaskGraph) Snapshot() []Task {
	out := make([]Task, 0, len(g.Order))
	for _, id := range g.Order {
		t := *g.Tasks[id]
		t.DependencyIDs = append([]string(nil), t.DependencyIDs...)
		out = append(out, t)
	}
	return out
}
