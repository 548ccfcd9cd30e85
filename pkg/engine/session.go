package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Antoinesrvt/architech/pkg/catalog"
	"github.com/Antoinesrvt/architech/pkg/events"
	"github.com/Antoinesrvt/architech/pkg/fsops"
	"github.com/Antoinesrvt/architech/pkg/runner"
	"github.com/Antoinesrvt/architech/pkg/stores"
	"github.com/Antoinesrvt/architech/pkg/telemetry"
)

// session is one generation attempt with its full history. All fields behind
// mu; the scheduler owns task state and is queried for snapshots.
type session struct {
	id        string
	cfg       *ProjectConfig
	scheduler *Scheduler

	mu         sync.Mutex
	status     SessionStatus
	errMsg     string
	resumable  bool
	currentID  string
	logs       []LogEntry
	startedAt  time.Time
	finishedAt *time.Time
	cancel     context.CancelFunc
}

// Manager owns all generation sessions for the process. It validates
// configurations, builds task graphs, runs them asynchronously, and serves
// status queries while a run is in flight.
type Manager struct {
	builder  *Builder
	executor Executor
	bus      *events.Bus
	metrics  *telemetry.Metrics
	store    *stores.RecentProjects
	opts     Options
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager wires the engine together. store may be nil when recent-project
// archiving is disabled.
func NewManager(provider catalog.Provider, r runner.Runner, applier *fsops.Applier, bus *events.Bus, metrics *telemetry.Metrics, store *stores.RecentProjects, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		builder:  NewBuilder(provider),
		executor: NewRecipeExecutor(provider, r, applier, opts, metrics, logger),
		bus:      bus,
		metrics:  metrics,
		store:    store,
		opts:     opts,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*session),
	}
}

// ValidateConfig checks a configuration without starting anything.
func (m *Manager) ValidateConfig(cfg *ProjectConfig) *ValidationResult {
	return m.builder.ValidateConfig(cfg)
}

// BuildTasks exposes graph construction for preview and validation tooling.
func (m *Manager) BuildTasks(cfg *ProjectConfig) (*TaskGraph, error) {
	return m.builder.BuildTasks(cfg)
}

// GenerateProject validates the configuration, builds its task graph, and
// starts execution in the background. It returns the session ID immediately;
// progress is observed through the event bus and GetProjectStatus.
func (m *Manager) GenerateProject(ctx context.Context, cfg *ProjectConfig) (string, error) {
	sessionID := uuid.New().String()

	sess := &session{
		id:        sessionID,
		cfg:       cfg,
		status:    SessionStatusPreparing,
		startedAt: time.Now(),
	}

	m.publishInit(events.KindInitStarted, sessionID, nil)

	progress := events.NewEvent(events.KindInitProgress, sessionID)
	progress.Step = "building task graph"
	m.bus.Publish(progress)

	graph, err := m.builder.BuildTasks(cfg)
	if err != nil {
		ev := events.NewEvent(events.KindInitFailed, sessionID)
		ev.Reason = err.Error()
		m.bus.Publish(ev)
		return "", err
	}

	sess.scheduler = NewScheduler(graph, m.executor, m.opts, m.logger)
	sess.scheduler.OnStatus(func(task Task) { m.taskChanged(sess, task) })
	sess.scheduler.OnProgress(func(taskID string, fraction float64, step string) {
		m.progressChanged(sess, taskID, fraction, step)
	})

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	names := make(map[string]string, len(graph.Order))
	for _, id := range graph.Order {
		names[id] = graph.Tasks[id].Name
	}
	m.publishInit(events.KindInitCompleted, sessionID, names)

	runCtx, cancel := context.WithCancel(context.Background())
	sess.mu.Lock()
	sess.cancel = cancel
	sess.status = SessionStatusRunning
	sess.mu.Unlock()

	m.metrics.RecordSessionStarted()
	m.logger.Info().Str("session", sessionID).Str("project", cfg.Name).Msg("generation started")

	go m.run(runCtx, sess)

	return sessionID, nil
}

// run drives the scheduler and derives the terminal session status.
func (m *Manager) run(ctx context.Context, sess *session) {
	ec := &ExecContext{
		Config:     sess.cfg,
		ProjectDir: ProjectDir(sess.cfg),
		Progress:   func(float64, string) {},
		Log: func(level, message string) {
			m.appendLog(sess, "", level, message)
		},
	}

	err := sess.scheduler.Run(ctx, ec)

	now := time.Now()
	sess.mu.Lock()
	sess.finishedAt = &now
	sess.currentID = ""
	switch {
	case err == nil:
		sess.status = SessionStatusCompleted
	case ctx.Err() != nil:
		sess.status = SessionStatusCancelled
		sess.errMsg = "cancelled"
	default:
		sess.status = SessionStatusFailed
		sess.errMsg = err.Error()
		sess.resumable = IsTransient(err)
	}
	status := sess.status
	errMsg := sess.errMsg
	duration := now.Sub(sess.startedAt)
	sess.mu.Unlock()

	m.metrics.RecordSessionCompleted(string(status), duration)

	switch status {
	case SessionStatusCompleted:
		m.logger.Info().Str("session", sess.id).Msg("generation completed")
		ev := events.NewEvent(events.KindGenerationComplete, sess.id)
		ev.Progress = 1
		m.bus.Publish(ev)
	default:
		m.logger.Warn().Str("session", sess.id).Str("status", string(status)).Str("reason", errMsg).Msg("generation did not complete")
		ev := events.NewEvent(events.KindGenerationFailed, sess.id)
		ev.Reason = errMsg
		m.bus.Publish(ev)
	}
}

// GetProjectStatus returns a snapshot of the session. The snapshot is a deep
// copy; mutating it does not affect the session.
func (m *Manager) GetProjectStatus(sessionID string) (*SessionSnapshot, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}

	tasks := sess.scheduler.Snapshot()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	return &SessionSnapshot{
		SessionID:     sess.id,
		ProjectName:   sess.cfg.Name,
		Status:        sess.status,
		Progress:      overallProgress(tasks),
		CurrentTaskID: sess.currentID,
		Tasks:         tasks,
		Resumable:     sess.resumable,
		Error:         sess.errMsg,
		StartedAt:     sess.startedAt,
		FinishedAt:    sess.finishedAt,
	}, nil
}

// GetProjectLogs returns a copy of the session's log history.
func (m *Manager) GetProjectLogs(sessionID string) ([]LogEntry, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]LogEntry(nil), sess.logs...), nil
}

// CancelProjectGeneration requests cooperative cancellation of a running
// session. Tasks observe it at their next checkpoint.
func (m *Manager) CancelProjectGeneration(sessionID string) error {
	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.status.IsTerminal() {
		return fmt.Errorf("session %s already %s", sessionID, sess.status)
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	return nil
}

// ResumeProjectGeneration re-runs a failed resumable session. Completed
// tasks keep their results; failed and skipped tasks return to Pending and
// are scheduled again.
func (m *Manager) ResumeProjectGeneration(sessionID string) error {
	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.status != SessionStatusFailed {
		sess.mu.Unlock()
		return fmt.Errorf("session %s is %s, only failed sessions can resume", sessionID, sess.status)
	}
	if !sess.resumable {
		sess.mu.Unlock()
		return fmt.Errorf("session %s failed with a configuration error and cannot resume", sessionID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	sess.status = SessionStatusRunning
	sess.errMsg = ""
	sess.resumable = false
	sess.finishedAt = nil
	sess.mu.Unlock()

	sess.scheduler.ResetForResume()

	m.metrics.RecordSessionStarted()
	m.logger.Info().Str("session", sessionID).Msg("generation resumed")

	go m.run(runCtx, sess)
	return nil
}

// Acknowledge archives a terminal session as a recent project and drops it
// from memory.
func (m *Manager) Acknowledge(ctx context.Context, sessionID string) error {
	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if !sess.status.IsTerminal() {
		sess.mu.Unlock()
		return fmt.Errorf("session %s is still %s", sessionID, sess.status)
	}
	record := stores.ProjectRecord{
		SessionID:   sess.id,
		Name:        sess.cfg.Name,
		Path:        ProjectDir(sess.cfg),
		FrameworkID: sess.cfg.FrameworkID,
		Status:      string(sess.status),
		CreatedAt:   sess.startedAt,
	}
	if sess.finishedAt != nil {
		record.FinishedAt = *sess.finishedAt
	}
	sess.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveProject(ctx, record); err != nil {
			return fmt.Errorf("failed to archive session %s: %w", sessionID, err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) session(sessionID string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	return sess, nil
}

func (m *Manager) taskChanged(sess *session, task Task) {
	sess.mu.Lock()
	switch task.Status.State {
	case TaskStateRunning:
		sess.currentID = task.ID
	default:
		if sess.currentID == task.ID {
			sess.currentID = ""
		}
	}
	sess.mu.Unlock()

	ev := events.NewEvent(events.KindTaskStateChanged, sess.id)
	ev.TaskID = task.ID
	ev.Status = task.Status.WireString()
	ev.Progress = task.Progress
	m.bus.Publish(ev)
}

func (m *Manager) progressChanged(sess *session, taskID string, fraction float64, step string) {
	ev := events.NewEvent(events.KindGenerationProgress, sess.id)
	ev.TaskID = taskID
	ev.Progress = fraction
	ev.Step = step
	m.bus.Publish(ev)
}

func (m *Manager) appendLog(sess *session, taskID, level, message string) {
	entry := LogEntry{
		Timestamp: time.Now(),
		TaskID:    taskID,
		Level:     level,
		Message:   message,
	}
	sess.mu.Lock()
	sess.logs = append(sess.logs, entry)
	sess.mu.Unlock()

	ev := events.NewEvent(events.KindLogMessage, sess.id)
	ev.TaskID = taskID
	ev.Message = message
	m.bus.Publish(ev)
}

func (m *Manager) publishInit(kind events.Kind, sessionID string, names map[string]string) {
	ev := events.NewEvent(kind, sessionID)
	if names != nil {
		ev.TaskCount = len(names)
		ev.TaskNames = names
	}
	m.bus.Publish(ev)
}

// overallProgress aggregates task progress into a session percentage.
// Terminal tasks count as done; the running task contributes its fraction.
func overallProgress(tasks []Task) float64 {
	if len(tasks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tasks {
		switch t.Status.State {
		case TaskStateCompleted, TaskStateSkipped, TaskStateFailed:
			sum += 1
		case TaskStateRunning:
			sum += t.Progress
		}
	}
	return sum / float64(len(tasks)) * 100
}
