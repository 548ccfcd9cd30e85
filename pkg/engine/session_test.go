package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/Antoinesrvt/architech/pkg/catalog"
	"github.com/Antoinesrvt/architech/pkg/events"
	"github.com/Antoinesrvt/architech/pkg/fsops"
	"github.com/Antoinesrvt/architech/pkg/runner"
	"github.com/Antoinesrvt/architech/pkg/stores"
	"github.com/Antoinesrvt/architech/pkg/telemetry"
)

// sessionProvider returns a catalog whose commands are plain POSIX utilities
// so sessions run end to end without any toolchain installed.
func sessionProvider(moduleCommands ...string) *fakeProvider {
	return &fakeProvider{
		frameworks: map[string]*catalog.Framework{
			"plain": {
				ID:   "plain",
				Name: "Plain",
				CLI: catalog.CLIDefinition{
					BaseCommand: "mkdir",
					Flags:       []string{"-p"},
				},
				DirectoryStructure: catalog.DirectoryStructure{
					Enforced:    true,
					Directories: []string{"src", "docs"},
				},
				CompatibleModules: []string{"mod"},
			},
		},
		modules: map[string]*catalog.Module{
			"mod": {
				ID:   "mod",
				Name: "Module",
				Installation: catalog.Installation{
					Commands: moduleCommands,
					FileOperations: []catalog.FileOperation{
						{Operation: "create", Path: "src/mod.txt", Content: "installed\n"},
					},
				},
			},
		},
	}
}

func newTestManager(t *testing.T, provider catalog.Provider, store *stores.RecentProjects) (*Manager, *events.Bus) {
	t.Helper()

	bus := events.NewBus(zerolog.Nop())
	opts := DefaultOptions()
	opts.CommandRetries = 0
	opts.CommandRetryDelay = time.Millisecond

	applier := fsops.NewApplier(afero.NewOsFs(), zerolog.Nop())
	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{})
	m := NewManager(provider, runner.NewLocal(zerolog.Nop()), applier, bus, metrics, store, opts, zerolog.Nop())
	return m, bus
}

func waitForTerminal(t *testing.T, m *Manager, sessionID string) *SessionSnapshot {
	t.Helper()

	deadline := time.After(15 * time.Second)
	for {
		snapshot, err := m.GetProjectStatus(sessionID)
		if err != nil {
			t.Fatalf("GetProjectStatus failed: %v", err)
		}
		if snapshot.Status.IsTerminal() {
			return snapshot
		}
		select {
		case <-deadline:
			t.Fatalf("session %s never reached a terminal status, last: %s", sessionID, snapshot.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func skipUnlessPOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses POSIX shell utilities")
	}
}

func TestGenerateProjectCompletes(t *testing.T) {
	skipUnlessPOSIX(t)

	m, bus := newTestManager(t, sessionProvider("true"), nil)

	var mu sync.Mutex
	var taskEvents []string
	bus.Subscribe(events.KindTaskStateChanged, func(ev events.Event) {
		mu.Lock()
		taskEvents = append(taskEvents, ev.TaskID+"="+ev.Status)
		mu.Unlock()
	})
	completeCh := make(chan struct{}, 1)
	bus.Subscribe(events.KindGenerationComplete, func(events.Event) {
		completeCh <- struct{}{}
	})

	parent := t.TempDir()
	cfg := &ProjectConfig{
		Name:        "my-app",
		Path:        parent,
		FrameworkID: "plain",
		Modules:     []ModuleSelection{{ID: "mod"}},
	}

	sessionID, err := m.GenerateProject(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GenerateProject failed: %v", err)
	}

	snapshot := waitForTerminal(t, m, sessionID)
	if snapshot.Status != SessionStatusCompleted {
		t.Fatalf("session = %s (%s), want completed", snapshot.Status, snapshot.Error)
	}
	if snapshot.Progress != 100 {
		t.Errorf("progress = %v, want 100", snapshot.Progress)
	}
	for _, task := range snapshot.Tasks {
		if task.Status.State != TaskStateCompleted {
			t.Errorf("task %s = %s, want Completed", task.ID, task.Status.WireString())
		}
	}

	// Scaffold dir, enforced layout and module file op all landed on disk.
	for _, path := range []string{
		filepath.Join(parent, "my-app"),
		filepath.Join(parent, "my-app", "docs"),
		filepath.Join(parent, "my-app", "src", "mod.txt"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}

	select {
	case <-completeCh:
	case <-time.After(time.Second):
		t.Error("generation-complete event not published")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(taskEvents) == 0 {
		t.Error("no task-state-changed events published")
	}

	logs, err := m.GetProjectLogs(sessionID)
	if err != nil {
		t.Fatalf("GetProjectLogs failed: %v", err)
	}
	if len(logs) == 0 {
		t.Error("expected session logs")
	}
}

func TestGenerateProjectFailureSkipsCleanupAndResumes(t *testing.T) {
	skipUnlessPOSIX(t)

	// rmdir fails until the marker directory exists; creating it before the
	// resume turns the failing task into a succeeding one.
	m, _ := newTestManager(t, sessionProvider("rmdir marker"), nil)

	parent := t.TempDir()
	cfg := &ProjectConfig{
		Name:        "my-app",
		Path:        parent,
		FrameworkID: "plain",
		Modules:     []ModuleSelection{{ID: "mod"}},
	}

	sessionID, err := m.GenerateProject(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GenerateProject failed: %v", err)
	}

	snapshot := waitForTerminal(t, m, sessionID)
	if snapshot.Status != SessionStatusFailed {
		t.Fatalf("session = %s, want failed", snapshot.Status)
	}
	if !snapshot.Resumable {
		t.Fatal("non-zero exit should leave the session resumable")
	}

	states := make(map[string]TaskStatus, len(snapshot.Tasks))
	for _, task := range snapshot.Tasks {
		states[task.ID] = task.Status
	}
	if states[FrameworkTaskID("plain")].State != TaskStateCompleted {
		t.Errorf("framework task = %s, want Completed", states[FrameworkTaskID("plain")].WireString())
	}
	if states[ModuleTaskID("mod")].State != TaskStateFailed {
		t.Errorf("module task = %s, want Failed", states[ModuleTaskID("mod")].WireString())
	}
	if states[TaskIDCleanup] != StatusSkipped(SkipReasonUpstream) {
		t.Errorf("cleanup = %s, want Skipped: upstream failure", states[TaskIDCleanup].WireString())
	}

	// Make the module command succeed and resume.
	if err := os.MkdirAll(filepath.Join(parent, "my-app", "marker"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.ResumeProjectGeneration(sessionID); err != nil {
		t.Fatalf("ResumeProjectGeneration failed: %v", err)
	}

	snapshot = waitForTerminal(t, m, sessionID)
	if snapshot.Status != SessionStatusCompleted {
		t.Fatalf("resumed session = %s (%s), want completed", snapshot.Status, snapshot.Error)
	}
	for _, task := range snapshot.Tasks {
		if task.Status.State != TaskStateCompleted {
			t.Errorf("task %s = %s after resume, want Completed", task.ID, task.Status.WireString())
		}
	}
}

func TestFailedCommandReasonIncludesStderr(t *testing.T) {
	skipUnlessPOSIX(t)

	m, _ := newTestManager(t, sessionProvider("rmdir definitely-missing-dir"), nil)

	cfg := &ProjectConfig{
		Name:        "my-app",
		Path:        t.TempDir(),
		FrameworkID: "plain",
		Modules:     []ModuleSelection{{ID: "mod"}},
	}
	sessionID, err := m.GenerateProject(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GenerateProject failed: %v", err)
	}

	snapshot := waitForTerminal(t, m, sessionID)
	if snapshot.Status != SessionStatusFailed {
		t.Fatalf("session = %s, want failed", snapshot.Status)
	}

	var status TaskStatus
	for _, task := range snapshot.Tasks {
		if task.ID == ModuleTaskID("mod") {
			status = task.Status
		}
	}
	if status.State != TaskStateFailed {
		t.Fatalf("module task = %s, want Failed", status.WireString())
	}
	// rmdir names the missing directory on stderr; the reason keeps it.
	if !strings.Contains(status.Reason, "definitely-missing-dir") {
		t.Errorf("reason %q does not carry the command's stderr", status.Reason)
	}
	if !strings.Contains(snapshot.Error, "definitely-missing-dir") {
		t.Errorf("session error %q does not carry the command's stderr", snapshot.Error)
	}
}

func TestResumeRejectsNonFailedSessions(t *testing.T) {
	skipUnlessPOSIX(t)

	m, _ := newTestManager(t, sessionProvider("true"), nil)

	cfg := &ProjectConfig{
		Name:        "my-app",
		Path:        t.TempDir(),
		FrameworkID: "plain",
		Modules:     []ModuleSelection{{ID: "mod"}},
	}
	sessionID, err := m.GenerateProject(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GenerateProject failed: %v", err)
	}
	waitForTerminal(t, m, sessionID)

	if err := m.ResumeProjectGeneration(sessionID); err == nil {
		t.Error("resuming a completed session should fail")
	}
}

func TestCancelProjectGeneration(t *testing.T) {
	skipUnlessPOSIX(t)

	m, _ := newTestManager(t, sessionProvider("sleep 30"), nil)

	cfg := &ProjectConfig{
		Name:        "my-app",
		Path:        t.TempDir(),
		FrameworkID: "plain",
		Modules:     []ModuleSelection{{ID: "mod"}},
	}
	sessionID, err := m.GenerateProject(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GenerateProject failed: %v", err)
	}

	// Wait until the slow module command is running before cancelling.
	deadline := time.After(10 * time.Second)
	for {
		snapshot, err := m.GetProjectStatus(sessionID)
		if err != nil {
			t.Fatal(err)
		}
		if snapshot.CurrentTaskID == ModuleTaskID("mod") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("module task never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := m.CancelProjectGeneration(sessionID); err != nil {
		t.Fatalf("CancelProjectGeneration failed: %v", err)
	}

	snapshot := waitForTerminal(t, m, sessionID)
	if snapshot.Status != SessionStatusCancelled {
		t.Fatalf("session = %s, want cancelled", snapshot.Status)
	}

	states := make(map[string]TaskStatus, len(snapshot.Tasks))
	for _, task := range snapshot.Tasks {
		states[task.ID] = task.Status
	}
	if states[ModuleTaskID("mod")] != StatusFailed("cancelled") {
		t.Errorf("module task = %s, want Failed: cancelled", states[ModuleTaskID("mod")].WireString())
	}
	if states[TaskIDCleanup] != StatusSkipped(SkipReasonCancelled) {
		t.Errorf("cleanup = %s, want Skipped: cancelled", states[TaskIDCleanup].WireString())
	}

	if err := m.CancelProjectGeneration(sessionID); err == nil {
		t.Error("cancelling a terminal session should fail")
	}
}

func TestGenerateProjectRejectsInvalidConfig(t *testing.T) {
	m, _ := newTestManager(t, sessionProvider("true"), nil)

	_, err := m.GenerateProject(context.Background(), &ProjectConfig{
		Name:        "my-app",
		Path:        t.TempDir(),
		FrameworkID: "ghost",
	})
	if err == nil {
		t.Fatal("expected error for unknown framework")
	}
	if !IsPermanent(err) {
		t.Errorf("configuration errors should be permanent: %v", err)
	}
}

func TestAcknowledgeArchivesSession(t *testing.T) {
	skipUnlessPOSIX(t)

	store, err := stores.NewRecentProjects(stores.Config{
		Path: filepath.Join(t.TempDir(), "recent.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	m, _ := newTestManager(t, sessionProvider("true"), store)

	cfg := &ProjectConfig{
		Name:        "my-app",
		Path:        t.TempDir(),
		FrameworkID: "plain",
		Modules:     []ModuleSelection{{ID: "mod"}},
	}
	sessionID, err := m.GenerateProject(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GenerateProject failed: %v", err)
	}
	waitForTerminal(t, m, sessionID)

	if err := m.Acknowledge(context.Background(), sessionID); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}

	// The session is gone from memory but archived in the store.
	if _, err := m.GetProjectStatus(sessionID); err == nil {
		t.Error("acknowledged session should be dropped from memory")
	}
	record, err := store.GetProject(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("archived record missing: %v", err)
	}
	if record.Status != string(SessionStatusCompleted) {
		t.Errorf("archived status = %s, want completed", record.Status)
	}
	if record.FrameworkID != "plain" {
		t.Errorf("archived framework = %s, want plain", record.FrameworkID)
	}
}

func TestAcknowledgeRejectsActiveSession(t *testing.T) {
	skipUnlessPOSIX(t)

	m, _ := newTestManager(t, sessionProvider("sleep 30"), nil)

	cfg := &ProjectConfig{
		Name:        "my-app",
		Path:        t.TempDir(),
		FrameworkID: "plain",
		Modules:     []ModuleSelection{{ID: "mod"}},
	}
	sessionID, err := m.GenerateProject(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GenerateProject failed: %v", err)
	}
	defer func() { _ = m.CancelProjectGeneration(sessionID) }()

	if err := m.Acknowledge(context.Background(), sessionID); err == nil {
		t.Error("acknowledging an active session should fail")
	}
}
