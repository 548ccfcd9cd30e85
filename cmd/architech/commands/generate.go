package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Antoinesrvt/architech/pkg/catalog"
	"github.com/Antoinesrvt/architech/pkg/engine"
	"github.com/Antoinesrvt/architech/pkg/events"
	"github.com/Antoinesrvt/architech/pkg/fsops"
	"github.com/Antoinesrvt/architech/pkg/runner"
	"github.com/Antoinesrvt/architech/pkg/stores"
	"github.com/Antoinesrvt/architech/pkg/telemetry"
)

func newGenerateCommand() *cobra.Command {
	var (
		maxParallel int
		retries     int
		autoResume  bool
		noArchive   bool
		recentDB    string
		metricsAddr string
		showLogs    bool
	)

	cmd := &cobra.Command{
		Use:   "generate <config-file>",
		Short: "Generate a project from a configuration",
		Long: `Run a full generation session: scaffold the framework, install the
selected modules in dependency order, and run cleanup.

The session is archived as a recent project when it finishes. A session that
fails on a transient error (a command exiting non-zero) can be retried in
place with --auto-resume; completed tasks are not redone.`,
		Example: `  # Generate a project
  architech generate project.json

  # Retry flaky commands automatically and stream command output
  architech generate project.yaml --auto-resume --logs

  # Expose Prometheus metrics while generating
  architech generate project.json --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			cfg, err := loadProjectConfig(args[0])
			if err != nil {
				return err
			}

			cat, err := catalog.Load(catalogDir, logger)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}

			var store *stores.RecentProjects
			if !noArchive {
				path := recentDB
				if path == "" {
					if path, err = defaultRecentDBPath(); err != nil {
						return err
					}
				}
				store, err = stores.NewRecentProjects(stores.Config{Path: path})
				if err != nil {
					return err
				}
				if err := store.Init(cmd.Context()); err != nil {
					return fmt.Errorf("failed to open recent projects store: %w", err)
				}
				defer store.Close()
			}

			metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
				Enabled:       metricsAddr != "",
				ListenAddress: metricsAddr,
				Path:          "/metrics",
			})
			if metricsAddr != "" {
				metrics.Serve(telemetry.MetricsConfig{ListenAddress: metricsAddr, Path: "/metrics"}, func(err error) {
					logger.Error().Err(err).Msg("metrics server failed")
				})
			}

			opts := engine.DefaultOptions()
			if maxParallel > 0 {
				opts.MaxParallel = maxParallel
			}
			if retries >= 0 {
				opts.CommandRetries = retries
			}

			bus := events.NewBus(logger)
			subscribeProgress(bus, cmd, logger, showLogs)

			applier := fsops.NewApplier(afero.NewOsFs(), logger)
			manager := engine.NewManager(cat, runner.NewLocal(logger), applier, bus, metrics, store, opts, logger)

			sessionID, err := manager.GenerateProject(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generating %s (session %s)\n", cfg.Name, sessionID)

			snapshot, err := waitForSession(cmd.Context(), manager, sessionID)
			if err != nil {
				return err
			}

			if snapshot.Status == engine.SessionStatusFailed && snapshot.Resumable && autoResume {
				fmt.Fprintf(cmd.OutOrStdout(), "Generation failed (%s), resuming...\n", snapshot.Error)
				if err := manager.ResumeProjectGeneration(sessionID); err != nil {
					return err
				}
				if snapshot, err = waitForSession(cmd.Context(), manager, sessionID); err != nil {
					return err
				}
			}

			if err := manager.Acknowledge(context.Background(), sessionID); err != nil {
				logger.Warn().Err(err).Msg("failed to archive session")
			}

			switch snapshot.Status {
			case engine.SessionStatusCompleted:
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s generated at %s\n", cfg.Name, engine.ProjectDir(cfg))
				return nil
			case engine.SessionStatusCancelled:
				return fmt.Errorf("generation cancelled")
			default:
				if snapshot.Resumable {
					return fmt.Errorf("generation failed: %s (re-run with --auto-resume to retry)", snapshot.Error)
				}
				return fmt.Errorf("generation failed: %s", snapshot.Error)
			}
		},
	}

	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "run up to N independent tasks at once (default sequential)")
	cmd.Flags().IntVar(&retries, "retries", -1, "retry attempts for failed module commands")
	cmd.Flags().BoolVar(&autoResume, "auto-resume", false, "resume once automatically after a transient failure")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "skip archiving the session as a recent project")
	cmd.Flags().StringVar(&recentDB, "recent-db", "", "path to the recent projects database")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "stream command output")

	return cmd
}

// subscribeProgress prints task transitions and, optionally, command output
// as they are published.
func subscribeProgress(bus *events.Bus, cmd *cobra.Command, logger zerolog.Logger, showLogs bool) {
	out := cmd.OutOrStdout()

	bus.Subscribe(events.KindInitCompleted, func(ev events.Event) {
		fmt.Fprintf(out, "Planned %d tasks\n", ev.TaskCount)
	})
	bus.Subscribe(events.KindTaskStateChanged, func(ev events.Event) {
		fmt.Fprintf(out, "  [%s] %s\n", ev.Status, ev.TaskID)
	})
	bus.Subscribe(events.KindGenerationProgress, func(ev events.Event) {
		logger.Debug().Str("task", ev.TaskID).Float64("progress", ev.Progress).Str("step", ev.Step).Msg("progress")
	})
	if showLogs {
		bus.Subscribe(events.KindLogMessage, func(ev events.Event) {
			fmt.Fprintf(out, "    %s\n", ev.Message)
		})
	}
}

// waitForSession polls until the session reaches a terminal status. On
// context cancellation it requests cooperative cancellation and keeps
// polling so the final statuses are reported.
func waitForSession(ctx context.Context, manager *engine.Manager, sessionID string) (*engine.SessionSnapshot, error) {
	cancelRequested := false
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		snapshot, err := manager.GetProjectStatus(sessionID)
		if err != nil {
			return nil, err
		}
		if snapshot.Status.IsTerminal() {
			return snapshot, nil
		}

		select {
		case <-ctx.Done():
			if !cancelRequested {
				cancelRequested = true
				_ = manager.CancelProjectGeneration(sessionID)
			}
			time.Sleep(200 * time.Millisecond)
		case <-ticker.C:
		}
	}
}
