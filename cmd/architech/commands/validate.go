package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Antoinesrvt/architech/pkg/catalog"
	"github.com/Antoinesrvt/architech/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	var printGraph bool

	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a project configuration",
		Long: `Check a project configuration against the catalog without generating
anything: the framework and modules must exist, every module dependency must
be selected, and no two selected modules may be incompatible.`,
		Example: `  # Validate a configuration
  architech validate project.json

  # Print the task graph in DOT format
  architech validate project.yaml --graph | dot -Tsvg -o graph.svg`,
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

			builder := engine.NewBuilder(cat)
			result := builder.ValidateConfig(cfg)

			if jsonOutput {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			} else if result.Valid {
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration has %d problem(s):\n", len(result.Issues))
				for _, issue := range result.Issues {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", issue.Message)
				}
			}

			if !result.Valid {
				return fmt.Errorf("invalid configuration")
			}

			if printGraph {
				graph, err := builder.BuildTasks(cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), engine.ToDOT(graph))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&printGraph, "graph", false, "print the task graph in DOT format")

	return cmd
}
