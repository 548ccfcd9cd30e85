package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// SkipReasonUpstream marks tasks skipped because a dependency failed.
const SkipReasonUpstream = "upstream failure"

// SkipReasonCancelled marks tasks skipped because the session was cancelled.
const SkipReasonCancelled = "cancelled"

// StatusFunc is notified after a task's status changes.
type StatusFunc func(task Task)

// ProgressFunc is notified when a running task reports progress.
type ProgressFunc func(taskID string, fraction float64, step string)

// Scheduler drives a task graph to completion. Execution is fail-fast: the
// first task failure stops new dispatch, transitive dependents are skipped,
// and in-flight tasks are allowed to finish. Tasks with no path from the
// failure keep their Pending status so a resumed run can pick them up.
type Scheduler struct {
	graph    *TaskGraph
	executor Executor
	opts     Options
	logger   zerolog.Logger

	mu         sync.Mutex
	onStatus   StatusFunc
	onProgress ProgressFunc
}

// NewScheduler creates a scheduler over the given graph.
func NewScheduler(graph *TaskGraph, executor Executor, opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		graph:    graph,
		executor: executor,
		opts:     opts,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// OnStatus registers the status change callback. Must be set before Run.
func (s *Scheduler) OnStatus(fn StatusFunc) { s.onStatus = fn }

// OnProgress registers the progress callback. Must be set before Run.
func (s *Scheduler) OnProgress(fn ProgressFunc) { s.onProgress = fn }

// Snapshot returns a copy of all tasks in topological order.
func (s *Scheduler) Snapshot() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Snapshot()
}

// Run executes the graph until no task can make progress. It returns the
// first task failure, or ctx.Err() when cancelled. A graph whose tasks are
// already partly Completed resumes from where it left off.
func (s *Scheduler) Run(ctx context.Context, ec *ExecContext) error {
	bound := s.opts.MaxParallel
	if bound < 1 {
		bound = 1
	}

	type outcome struct {
		id  string
		err error
	}
	results := make(chan outcome)

	running := 0
	halted := false
	var firstErr error

	for {
		if !halted && ctx.Err() == nil {
			for running < bound {
				id, ok := s.nextEligible()
				if !ok {
					break
				}
				s.setStatus(id, StatusRunning)
				s.logger.Debug().Str("task", id).Msg("task started")
				running++
				go func(id string) {
					task := s.taskCopy(id)
					err := s.executor.Execute(ctx, s.wrapContext(ec, id), &task)
					results <- outcome{id: id, err: err}
				}(id)
			}
		}

		if running == 0 {
			break
		}

		res := <-results
		running--

		if res.err != nil {
			reason := failureReason(res.err)
			s.setStatus(res.id, StatusFailed(reason))
			s.logger.Error().Str("task", res.id).Err(res.err).Msg("task failed")
			if firstErr == nil {
				firstErr = res.err
			}
			halted = true
			// During cancellation the dependents are casualties of the
			// cancel, not of an upstream failure.
			skipReason := SkipReasonUpstream
			if ctx.Err() != nil {
				skipReason = SkipReasonCancelled
			}
			s.skipDependents(res.id, skipReason)
			continue
		}

		s.setProgress(res.id, 1)
		s.setStatus(res.id, StatusCompleted)
		s.logger.Debug().Str("task", res.id).Msg("task completed")
	}

	if ctx.Err() != nil {
		s.skipAllPending(SkipReasonCancelled)
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}

	return firstErr
}

// ResetForResume returns failed tasks, and tasks skipped because of that
// failure or a cancellation, to Pending so a new Run re-attempts them.
// Completed tasks are left untouched.
func (s *Scheduler) ResetForResume() {
	s.mu.Lock()
	var reset []Task
	for _, task := range s.graph.Tasks {
		switch {
		case task.Status.State == TaskStateFailed,
			task.Status.State == TaskStateSkipped:
			task.Status = StatusPending
			task.Progress = 0
			reset = append(reset, *task)
		}
	}
	s.mu.Unlock()

	for _, task := range reset {
		s.notifyStatus(task)
	}
}

// nextEligible returns a Pending task whose dependencies have all Completed.
func (s *Scheduler) nextEligible() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.graph.Order {
		task := s.graph.Tasks[id]
		if task.Status.State != TaskStatePending {
			continue
		}
		ready := true
		for _, dep := range task.DependencyIDs {
			if s.graph.Tasks[dep].Status.State != TaskStateCompleted {
				ready = false
				break
			}
		}
		if ready {
			return id, true
		}
	}
	return "", false
}

// skipDependents marks every Pending transitive dependent of id as Skipped.
func (s *Scheduler) skipDependents(id, reason string) {
	s.mu.Lock()
	var skipped []Task
	queue := append([]string(nil), s.graph.Dependents[id]...)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true

		task := s.graph.Tasks[next]
		if task.Status.State == TaskStatePending {
			task.Status = StatusSkipped(reason)
			skipped = append(skipped, *task)
		}
		queue = append(queue, s.graph.Dependents[next]...)
	}
	s.mu.Unlock()

	for _, task := range skipped {
		s.notifyStatus(task)
	}
}

func (s *Scheduler) skipAllPending(reason string) {
	s.mu.Lock()
	var skipped []Task
	for _, id := range s.graph.Order {
		task := s.graph.Tasks[id]
		if task.Status.State == TaskStatePending {
			task.Status = StatusSkipped(reason)
			skipped = append(skipped, *task)
		}
	}
	s.mu.Unlock()

	for _, task := range skipped {
		s.notifyStatus(task)
	}
}

func (s *Scheduler) setStatus(id string, status TaskStatus) {
	s.mu.Lock()
	task := s.graph.Tasks[id]
	task.Status = status
	copied := *task
	s.mu.Unlock()

	s.notifyStatus(copied)
}

func (s *Scheduler) setProgress(id string, fraction float64) {
	s.mu.Lock()
	s.graph.Tasks[id].Progress = fraction
	s.mu.Unlock()
}

func (s *Scheduler) taskCopy(id string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.graph.Tasks[id]
}

func (s *Scheduler) notifyStatus(task Task) {
	if s.onStatus != nil {
		s.onStatus(task)
	}
}

// wrapContext routes executor progress reports through the scheduler so the
// stored task progress stays current.
func (s *Scheduler) wrapContext(ec *ExecContext, taskID string) *ExecContext {
	return &ExecContext{
		Config:     ec.Config,
		ProjectDir: ec.ProjectDir,
		Log:        ec.Log,
		Progress: func(fraction float64, step string) {
			if fraction < 0 {
				fraction = 0
			}
			if fraction > 1 {
				fraction = 1
			}
			s.setProgress(taskID, fraction)
			if s.onProgress != nil {
				s.onProgress(taskID, fraction, step)
			}
		},
	}
}

// failureReason extracts the user-facing reason carried in the task status.
func failureReason(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		if e.Code == ErrCodeCancelled {
			return "cancelled"
		}
		return e.Message
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}
