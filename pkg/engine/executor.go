package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Antoinesrvt/architech/pkg/catalog"
	"github.com/Antoinesrvt/architech/pkg/fsops"
	"github.com/Antoinesrvt/architech/pkg/runner"
	"github.com/Antoinesrvt/architech/pkg/telemetry"
)

// ExecContext carries per-session state into task execution.
type ExecContext struct {
	// Config is the validated project configuration.
	Config *ProjectConfig

	// ProjectDir is the root of the generated project tree.
	ProjectDir string

	// Progress reports task-local progress in [0, 1] with a step label.
	Progress func(fraction float64, step string)

	// Log records a line of session output.
	Log func(level, message string)
}

// Executor runs one task to completion. Implementations must respect ctx
// cancellation and return classified errors so the session can decide
// resumability.
type Executor interface {
	Execute(ctx context.Context, ec *ExecContext, task *Task) error
}

// RecipeExecutor executes tasks from their catalog definitions: framework
// scaffolding via the framework CLI, module installation via commands and
// file operations, and catalog-defined cleanup commands.
type RecipeExecutor struct {
	provider catalog.Provider
	runner   runner.Runner
	applier  *fsops.Applier
	opts     Options
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// NewRecipeExecutor creates the standard executor.
func NewRecipeExecutor(provider catalog.Provider, r runner.Runner, applier *fsops.Applier, opts Options, metrics *telemetry.Metrics, logger zerolog.Logger) *RecipeExecutor {
	return &RecipeExecutor{
		provider: provider,
		runner:   r,
		applier:  applier,
		opts:     opts,
		metrics:  metrics,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Execute implements Executor.
func (e *RecipeExecutor) Execute(ctx context.Context, ec *ExecContext, task *Task) error {
	start := time.Now()
	err := e.execute(ctx, ec, task)

	status := "completed"
	if err != nil {
		status = "failed"
	}
	e.metrics.RecordTaskExecuted(status, time.Since(start))
	return err
}

func (e *RecipeExecutor) execute(ctx context.Context, ec *ExecContext, task *Task) error {
	switch {
	case strings.HasPrefix(task.ID, taskPrefixFramework):
		return e.scaffoldFramework(ctx, ec, strings.TrimPrefix(task.ID, taskPrefixFramework))
	case strings.HasPrefix(task.ID, taskPrefixModule):
		return e.installModule(ctx, ec, strings.TrimPrefix(task.ID, taskPrefixModule))
	case task.ID == TaskIDCleanup:
		return e.cleanup(ctx, ec)
	default:
		return NewPermanentError(fmt.Sprintf("unknown task %s", task.ID), nil).
			WithCode(ErrCodeInternal).WithTask(task.ID)
	}
}

// scaffoldFramework runs the framework CLI in the parent directory so the
// tool creates the project directory itself, then enforces the declared
// directory layout.
func (e *RecipeExecutor) scaffoldFramework(ctx context.Context, ec *ExecContext, frameworkID string) error {
	fw, err := e.provider.FrameworkByID(frameworkID)
	if err != nil {
		return NewPermanentError("framework not in catalog", err).
			WithCode(ErrCodeValidation).WithTask(FrameworkTaskID(frameworkID))
	}

	commandLine := fw.CLI.BaseCommand
	if len(fw.CLI.Flags) > 0 {
		commandLine += " " + strings.Join(fw.CLI.Flags, " ")
	}
	commandLine += " " + ec.Config.Name

	var script []string
	if fw.CLI.Interactive {
		for _, pr := range fw.CLI.Responses {
			answer := pr.Response
			if pr.UseProjectName {
				answer = ec.Config.Name
			}
			script = append(script, answer)
		}
	}

	ec.Progress(0.1, fmt.Sprintf("running %s", fw.CLI.BaseCommand))
	ec.Log("info", fmt.Sprintf("scaffolding %s: %s", fw.Name, commandLine))

	completed := make(chan struct{})
	handle, err := e.runner.RunStreaming(ctx, ec.Config.Path, commandLine, script, runner.StreamCallbacks{
		OnStdoutLine: func(line string) { ec.Log("info", line) },
		OnStderrLine: func(line string) { ec.Log("warn", line) },
		OnCompleted:  func(int, bool) { close(completed) },
	})
	if err != nil {
		return NewPermanentError("failed to start framework CLI", err).
			WithCode(ErrCodeSpawnFailed).WithTask(FrameworkTaskID(frameworkID))
	}

	select {
	case <-completed:
	case <-ctx.Done():
		handle.Cancel()
		<-completed
		return NewTransientError("scaffolding cancelled", ctx.Err()).
			WithCode(ErrCodeCancelled).WithTask(FrameworkTaskID(frameworkID))
	}

	result := handle.Wait()
	if !result.Success {
		reason := fmt.Sprintf("framework CLI exited with code %d", result.ExitCode)
		if tail := stderrTail(result.Stderr); tail != "" {
			reason += ": " + tail
		}
		return NewTransientError(reason, nil).
			WithCode(ErrCodeCommandFailed).WithTask(FrameworkTaskID(frameworkID))
	}

	if fw.DirectoryStructure.Enforced {
		ec.Progress(0.9, "enforcing directory layout")
		if err := e.applier.EnsureDirectories(ec.ProjectDir, fw.DirectoryStructure.Directories); err != nil {
			return NewPermanentError("failed to enforce directory layout", err).
				WithTask(FrameworkTaskID(frameworkID))
		}
	}

	ec.Progress(1, "scaffold complete")
	return nil
}

// installModule runs the module's install commands with retries, then
// applies its file operations.
func (e *RecipeExecutor) installModule(ctx context.Context, ec *ExecContext, moduleID string) error {
	mod, err := e.provider.ModuleByID(moduleID)
	if err != nil {
		return NewPermanentError("module not in catalog", err).
			WithCode(ErrCodeValidation).WithTask(ModuleTaskID(moduleID))
	}

	taskID := ModuleTaskID(moduleID)
	totalSteps := len(mod.Installation.Commands) + len(mod.Installation.FileOperations)
	if totalSteps == 0 {
		ec.Progress(1, "nothing to do")
		return nil
	}
	step := 0
	advance := func(label string) {
		step++
		ec.Progress(float64(step)/float64(totalSteps), label)
	}

	for _, commandLine := range mod.Installation.Commands {
		if err := e.runWithRetry(ctx, ec, taskID, commandLine); err != nil {
			return err
		}
		advance(commandLine)
	}

	for _, op := range mod.Installation.FileOperations {
		warnings, err := e.applier.Apply(ec.ProjectDir, op)
		for _, w := range warnings {
			ec.Log("warn", w)
		}
		if err != nil {
			return NewPermanentError(
				fmt.Sprintf("file operation %s on %s failed", op.Operation, op.Path), err,
			).WithTask(taskID)
		}
		advance(fmt.Sprintf("%s %s", op.Operation, op.Path))
	}

	return nil
}

// cleanup runs the framework's declared cleanup commands.
func (e *RecipeExecutor) cleanup(ctx context.Context, ec *ExecContext) error {
	fw, err := e.provider.FrameworkByID(ec.Config.FrameworkID)
	if err != nil {
		return NewPermanentError("framework not in catalog", err).
			WithCode(ErrCodeValidation).WithTask(TaskIDCleanup)
	}

	commands := fw.Cleanup.Commands
	if len(commands) == 0 {
		ec.Progress(1, "nothing to clean up")
		return nil
	}

	for i, commandLine := range commands {
		ec.Progress(float64(i)/float64(len(commands)), commandLine)
		if err := e.runOnce(ctx, ec, TaskIDCleanup, commandLine); err != nil {
			return err
		}
	}
	ec.Progress(1, "cleanup complete")
	return nil
}

// runWithRetry executes a command, retrying on non-zero exit up to the
// configured attempt count. Spawn failures are not retried.
func (e *RecipeExecutor) runWithRetry(ctx context.Context, ec *ExecContext, taskID, commandLine string) error {
	attempts := e.opts.CommandRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = e.runOnce(ctx, ec, taskID, commandLine)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) || ctx.Err() != nil {
			return lastErr
		}
		if attempt < attempts {
			e.metrics.RecordCommandRetry()
			ec.Log("warn", fmt.Sprintf("command failed (attempt %d/%d), retrying: %s", attempt, attempts, commandLine))
			select {
			case <-time.After(e.opts.CommandRetryDelay):
			case <-ctx.Done():
				return NewTransientError("command cancelled", ctx.Err()).
					WithCode(ErrCodeCancelled).WithTask(taskID)
			}
		}
	}
	return lastErr
}

func (e *RecipeExecutor) runOnce(ctx context.Context, ec *ExecContext, taskID, commandLine string) error {
	ec.Log("info", fmt.Sprintf("running: %s", commandLine))
	result, err := e.runner.Run(ctx, ec.ProjectDir, commandLine)
	if err != nil {
		if ctx.Err() != nil {
			return NewTransientError("command cancelled", ctx.Err()).
				WithCode(ErrCodeCancelled).WithTask(taskID)
		}
		return NewPermanentError(fmt.Sprintf("failed to start command %q", commandLine), err).
			WithCode(ErrCodeSpawnFailed).WithTask(taskID)
	}

	logCommandOutput(ec, result)
	if !result.Success {
		reason := fmt.Sprintf("command %q exited with code %d", commandLine, result.ExitCode)
		if tail := stderrTail(result.Stderr); tail != "" {
			reason += ": " + tail
		}
		return NewTransientError(reason, nil).
			WithCode(ErrCodeCommandFailed).WithTask(taskID)
	}
	return nil
}

// stderrTail returns the last few stderr lines so a failed task's reason
// carries the tool's own diagnostic.
func stderrTail(stderr string) string {
	lines := splitLines(strings.TrimSpace(stderr))
	const keep = 3
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.Join(lines, " | ")
}

func logCommandOutput(ec *ExecContext, result *runner.CommandResult) {
	for _, line := range splitLines(result.Stdout) {
		ec.Log("info", line)
	}
	for _, line := range splitLines(result.Stderr) {
		ec.Log("warn", line)
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// ProjectDir resolves the directory a configuration generates into.
func ProjectDir(cfg *ProjectConfig) string {
	return filepath.Join(cfg.Path, cfg.Name)
}
