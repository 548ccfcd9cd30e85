package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Antoinesrvt/architech/pkg/catalog"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the framework and module catalog",
	}
	cmd.AddCommand(newCatalogListCommand())
	return cmd
}

func newCatalogListCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available frameworks and modules",
		Example: `  # List the catalog
  architech catalog list

  # Keep the listing current while editing catalog files
  architech catalog list --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}

			cat, err := catalog.Load(catalogDir, logger)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}

			if err := printCatalog(cmd, cat); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			// Reprint on every successful reload until interrupted.
			watcher := catalog.NewWatcher(cat, func() {
				fmt.Fprintln(cmd.OutOrStdout(), "--- catalog reloaded ---")
				_ = printCatalog(cmd, cat)
			}, logger)
			return watcher.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "watch the catalog directory and reprint on changes")

	return cmd
}

func printCatalog(cmd *cobra.Command, cat *catalog.Catalog) error {
	frameworks := cat.Frameworks()
	modules := cat.Modules()
	sort.Slice(frameworks, func(i, j int) bool { return frameworks[i].ID < frameworks[j].ID })
	sort.Slice(modules, func(i, j int) bool { return modules[i].ID < modules[j].ID })

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"frameworks": frameworks,
			"modules":    modules,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Frameworks (%d):\n", len(frameworks))
	for _, fw := range frameworks {
		fmt.Fprintf(out, "  %-16s %s\n", fw.ID, fw.Name)
	}
	fmt.Fprintf(out, "Modules (%d):\n", len(modules))
	for _, mod := range modules {
		line := fmt.Sprintf("  %-16s %s", mod.ID, mod.Name)
		if len(mod.Dependencies) > 0 {
			line += fmt.Sprintf(" (requires %v)", mod.Dependencies)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
