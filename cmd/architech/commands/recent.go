package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Antoinesrvt/architech/pkg/stores"
)

func newRecentCommand() *cobra.Command {
	var recentDB string

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Manage recently generated projects",
	}
	cmd.PersistentFlags().StringVar(&recentDB, "recent-db", "", "path to the recent projects database")

	openStore := func(cmd *cobra.Command) (*stores.RecentProjects, error) {
		path := recentDB
		if path == "" {
			var err error
			if path, err = defaultRecentDBPath(); err != nil {
				return nil, err
			}
		}
		store, err := stores.NewRecentProjects(stores.Config{Path: path})
		if err != nil {
			return nil, err
		}
		if err := store.Init(cmd.Context()); err != nil {
			return nil, fmt.Errorf("failed to open recent projects store: %w", err)
		}
		return store, nil
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListProjects(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recent projects")
				return nil
			}
			for _, record := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s %-12s %s\n",
					record.Name, record.Status, record.FrameworkID, record.Path)
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 10, "maximum number of projects to list (0 for all)")

	rmCmd := &cobra.Command{
		Use:   "rm <session-id>",
		Short: "Remove a project from the recent list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd)
	cmd.AddCommand(rmCmd)
	return cmd
}
