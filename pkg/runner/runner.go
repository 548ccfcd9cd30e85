// Package runner executes external commands for the generation engine. It
// provides a blocking variant that collects all output and a streaming
// variant that delivers output line by line and supports cancellation.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CommandResult is the outcome of a finished command. A non-zero exit code is
// not an error at this layer; callers decide failure policy from Success.
type CommandResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// StreamCallbacks receives output and completion notifications from a
// streaming run. Per-stream line order matches the order the process emitted;
// interleaving between stdout and stderr is not guaranteed. OnError fires
// only for spawn failures, before any output callback.
type StreamCallbacks struct {
	OnStdoutLine func(line string)
	OnStderrLine func(line string)
	OnCompleted  func(exitCode int, success bool)
	OnError      func(message string)
}

// Runner executes one external command at a time.
type Runner interface {
	// Run executes commandLine in workingDir and blocks until the process
	// exits, returning all captured output. The error is non-nil only for
	// spawn failures or context cancellation, never for non-zero exits.
	Run(ctx context.Context, workingDir, commandLine string) (*CommandResult, error)

	// RunStreaming starts commandLine in workingDir and returns
	// immediately with a handle for cancellation. stdinScript lines, if
	// any, are written to the process stdin (scripted answers for
	// interactive CLIs).
	RunStreaming(ctx context.Context, workingDir, commandLine string, stdinScript []string, cb StreamCallbacks) (*Handle, error)
}

// Handle tracks one in-flight streaming command.
type Handle struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	result *CommandResult
}

// Cancel terminates the underlying process if it is still running and
// releases the output listeners. It is idempotent: calling it twice, or on an
// already-completed handle, is safe.
func (h *Handle) Cancel() {
	h.stopOnce.Do(func() {
		h.cancel()
	})
}

// Wait blocks until the command has completed (or was cancelled) and returns
// its result.
func (h *Handle) Wait() *CommandResult {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Local runs commands as child processes of the current process.
type Local struct {
	logger zerolog.Logger
}

// NewLocal creates a local runner.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger.With().Str("component", "command_runner").Logger()}
}

// Run implements Runner.
func (r *Local) Run(ctx context.Context, workingDir, commandLine string) (*CommandResult, error) {
	cmd, err := buildCommand(ctx, workingDir, commandLine)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug().Str("command", commandLine).Str("dir", workingDir).Msg("running command")

	start := time.Now()
	runErr := cmd.Run()
	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		// A cancelled context kills the process, which also surfaces as an
		// ExitError; the cancellation must win so callers see ctx.Err().
		if ctx.Err() != nil {
			result.ExitCode = -1
			return result, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to spawn command %q: %w", commandLine, runErr)
	}

	result.ExitCode = 0
	result.Success = true
	return result, nil
}

// RunStreaming implements Runner.
func (r *Local) RunStreaming(ctx context.Context, workingDir, commandLine string, stdinScript []string, cb StreamCallbacks) (*Handle, error) {
	cmdCtx, cancel := context.WithCancel(ctx)

	cmd, err := buildCommand(cmdCtx, workingDir, commandLine)
	if err != nil {
		cancel()
		if cb.OnError != nil {
			cb.OnError(err.Error())
		}
		return nil, err
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if len(stdinScript) > 0 {
		cmd.Stdin = strings.NewReader(strings.Join(stdinScript, "\n") + "\n")
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		cancel()
		msg := fmt.Sprintf("failed to spawn command %q: %v", commandLine, err)
		if cb.OnError != nil {
			cb.OnError(msg)
		}
		return nil, fmt.Errorf("failed to spawn command %q: %w", commandLine, err)
	}

	r.logger.Debug().Str("command", commandLine).Str("dir", workingDir).Msg("started streaming command")

	h := &Handle{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var stdoutLines, stderrLines []string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdoutPipe, &stdoutLines, cb.OnStdoutLine)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, &stderrLines, cb.OnStderrLine)
	}()

	go func() {
		defer cancel()
		// Pipes must drain before Wait releases them.
		wg.Wait()
		waitErr := cmd.Wait()

		exitCode := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		success := waitErr == nil

		h.mu.Lock()
		h.result = &CommandResult{
			Stdout:   strings.Join(stdoutLines, "\n"),
			Stderr:   strings.Join(stderrLines, "\n"),
			ExitCode: exitCode,
			Success:  success,
			Duration: time.Since(start),
		}
		h.mu.Unlock()

		if cb.OnCompleted != nil {
			cb.OnCompleted(exitCode, success)
		}
		close(h.done)
	}()

	return h, nil
}

func scanLines(pipe io.Reader, collected *[]string, onLine func(string)) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		*collected = append(*collected, line)
		if onLine != nil {
			onLine(line)
		}
	}
}

// buildCommand splits an opaque command line into executable and arguments.
// Catalog command strings are plain whitespace-separated invocations; shell
// features (pipes, quoting) are intentionally unsupported.
func buildCommand(ctx context.Context, workingDir, commandLine string) (*exec.Cmd, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command line")
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = workingDir
	return cmd, nil
}
