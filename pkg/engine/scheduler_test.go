package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeExecutor runs scripted outcomes and records execution order.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	fail     map[string]error
	block    map[string]chan struct{}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		fail:  make(map[string]error),
		block: make(map[string]chan struct{}),
	}
}

func (f *fakeExecutor) Execute(ctx context.Context, ec *ExecContext, task *Task) error {
	f.mu.Lock()
	f.executed = append(f.executed, task.ID)
	f.mu.Unlock()

	if started, ok := f.block[task.ID]; ok {
		close(started)
		<-ctx.Done()
		return NewTransientError("command cancelled", ctx.Err()).WithCode(ErrCodeCancelled)
	}

	ec.Progress(1, "done")
	return f.fail[task.ID]
}

func (f *fakeExecutor) executionOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func buildTestGraph(t *testing.T, tasks []Task) *TaskGraph {
	t.Helper()
	graph, err := NewDAGBuilder().BuildGraph(tasks)
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	return graph
}

func testExecContext() *ExecContext {
	return &ExecContext{
		Config:     &ProjectConfig{Name: "app", Path: "/tmp"},
		ProjectDir: "/tmp/app",
		Progress:   func(float64, string) {},
		Log:        func(string, string) {},
	}
}

func taskState(t *testing.T, s *Scheduler, id string) TaskStatus {
	t.Helper()
	for _, task := range s.Snapshot() {
		if task.ID == id {
			return task.Status
		}
	}
	t.Fatalf("task %s not found", id)
	return TaskStatus{}
}

func TestSchedulerRunsAllTasksInDependencyOrder(t *testing.T) {
	graph := buildTestGraph(t, []Task{
		pendingTask("a"),
		pendingTask("b", "a"),
		pendingTask("c", "a", "b"),
	})
	exec := newFakeExecutor()
	s := NewScheduler(graph, exec, DefaultOptions(), zerolog.Nop())

	if err := s.Run(context.Background(), testExecContext()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	order := exec.executionOrder()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("unexpected execution order: %v", order)
	}
	for _, task := range s.Snapshot() {
		if task.Status.State != TaskStateCompleted {
			t.Errorf("task %s = %s, want Completed", task.ID, task.Status.WireString())
		}
		if task.Progress != 1 {
			t.Errorf("task %s progress = %v, want 1", task.ID, task.Progress)
		}
	}
}

func TestSchedulerFailFastSkipsDependents(t *testing.T) {
	graph := buildTestGraph(t, []Task{
		pendingTask("a"),
		pendingTask("b", "a"),
		pendingTask("c", "a"),
		pendingTask("d", "b"),
	})
	exec := newFakeExecutor()
	exec.fail["b"] = NewTransientError("command exited with code 1", nil).WithCode(ErrCodeCommandFailed)
	s := NewScheduler(graph, exec, DefaultOptions(), zerolog.Nop())

	err := s.Run(context.Background(), testExecContext())
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}

	if got := taskState(t, s, "a"); got.State != TaskStateCompleted {
		t.Errorf("a = %s, want Completed", got.WireString())
	}
	if got := taskState(t, s, "b"); got.State != TaskStateFailed {
		t.Errorf("b = %s, want Failed", got.WireString())
	}
	if got := taskState(t, s, "d"); got != StatusSkipped(SkipReasonUpstream) {
		t.Errorf("d = %s, want Skipped: upstream failure", got.WireString())
	}
	// c has no path from the failure; it keeps Pending for a later resume.
	if got := taskState(t, s, "c"); got.State != TaskStatePending {
		t.Errorf("c = %s, want Pending", got.WireString())
	}
}

func TestSchedulerParallelDispatch(t *testing.T) {
	graph := buildTestGraph(t, []Task{
		pendingTask("a"),
		pendingTask("b"),
	})
	exec := newFakeExecutor()
	opts := DefaultOptions()
	opts.MaxParallel = 2

	// Both tasks block until each observes the other started.
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})
	exec.block["a"] = aStarted
	exec.block["b"] = bStarted

	s := NewScheduler(graph, exec, opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-aStarted
		<-bStarted
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, testExecContext()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not observe both tasks running concurrently")
	}
}

func TestSchedulerCancellation(t *testing.T) {
	graph := buildTestGraph(t, []Task{
		pendingTask("a"),
		pendingTask("b", "a"),
	})
	exec := newFakeExecutor()
	started := make(chan struct{})
	exec.block["a"] = started

	s := NewScheduler(graph, exec, DefaultOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := s.Run(ctx, testExecContext())
	if err == nil {
		t.Fatal("expected error after cancellation")
	}

	if got := taskState(t, s, "a"); got != StatusFailed("cancelled") {
		t.Errorf("a = %s, want Failed: cancelled", got.WireString())
	}
	if got := taskState(t, s, "b"); got != StatusSkipped(SkipReasonCancelled) {
		t.Errorf("b = %s, want Skipped: cancelled", got.WireString())
	}
}

func TestSchedulerResumeRerunsOnlyUnfinishedTasks(t *testing.T) {
	graph := buildTestGraph(t, []Task{
		pendingTask("a"),
		pendingTask("b", "a"),
		pendingTask("c", "b"),
	})
	exec := newFakeExecutor()
	exec.fail["b"] = NewTransientError("command exited with code 1", nil).WithCode(ErrCodeCommandFailed)
	s := NewScheduler(graph, exec, DefaultOptions(), zerolog.Nop())

	if err := s.Run(context.Background(), testExecContext()); err == nil {
		t.Fatal("expected first run to fail")
	}

	delete(exec.fail, "b")
	s.ResetForResume()

	if got := taskState(t, s, "b"); got.State != TaskStatePending {
		t.Errorf("b after reset = %s, want Pending", got.WireString())
	}
	if got := taskState(t, s, "a"); got.State != TaskStateCompleted {
		t.Errorf("a after reset = %s, want Completed", got.WireString())
	}

	if err := s.Run(context.Background(), testExecContext()); err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}

	order := exec.executionOrder()
	// a ran once; b ran twice; c ran once after the resume.
	counts := make(map[string]int)
	for _, id := range order {
		counts[id]++
	}
	if counts["a"] != 1 {
		t.Errorf("a executed %d times, want 1", counts["a"])
	}
	if counts["b"] != 2 {
		t.Errorf("b executed %d times, want 2", counts["b"])
	}
	if counts["c"] != 1 {
		t.Errorf("c executed %d times, want 1", counts["c"])
	}

	for _, task := range s.Snapshot() {
		if task.Status.State != TaskStateCompleted {
			t.Errorf("task %s = %s after resume, want Completed", task.ID, task.Status.WireString())
		}
	}
}

func TestSchedulerStatusNotifications(t *testing.T) {
	graph := buildTestGraph(t, []Task{pendingTask("a")})
	exec := newFakeExecutor()
	s := NewScheduler(graph, exec, DefaultOptions(), zerolog.Nop())

	var mu sync.Mutex
	var transitions []string
	s.OnStatus(func(task Task) {
		mu.Lock()
		transitions = append(transitions, task.Status.WireString())
		mu.Unlock()
	})

	if err := s.Run(context.Background(), testExecContext()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != "Running" || transitions[1] != "Completed" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}
