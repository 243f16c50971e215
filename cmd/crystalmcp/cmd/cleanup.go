package cmd

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/output"
)

func newCleanupCmd() *cobra.Command {
	var (
		dryRun  bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup [path]",
		Short: "Remove stored results for deleted files",
		Long: `Remove analysis results whose source file no longer exists.

Refresh does this automatically for files it sees disappear; cleanup
catches results orphaned while no session was running. Use --dry-run
to list what would be removed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runCleanup(cmd, path, dryRun, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List orphaned results without removing them")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the result as JSON")

	return cmd
}

func runCleanup(cmd *cobra.Command, path string, dryRun, jsonOut bool) error {
	out := output.New(cmd.OutOrStdout())

	deps, err := loadRepo(path)
	if err != nil {
		return err
	}

	stopLogging := deps.setupCommandLogging()
	defer stopLogging()

	stale, err := findOrphanedResults(deps)
	if err != nil {
		return err
	}

	if dryRun {
		if jsonOut {
			return out.JSON(map[string]any{"orphaned": stale, "removed": 0})
		}
		if len(stale) == 0 {
			out.Success("No orphaned results")
			return nil
		}
		out.Statusf("🔍", "%d orphaned results would be removed:", len(stale))
		for _, rel := range stale {
			out.Statusf("  -", "%s", rel)
		}
		return nil
	}

	removed := deps.detector.Cleanup(stale)

	if jsonOut {
		return out.JSON(map[string]any{"orphaned": stale, "removed": removed})
	}

	if removed == 0 {
		out.Success("No orphaned results")
		return nil
	}
	out.Successf("Removed %d orphaned results", removed)

	return nil
}

// findOrphanedResults lists stored results whose source file is gone.
func findOrphanedResults(deps *repoDeps) ([]string, error) {
	rels, err := deps.store.List()
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, rel := range rels {
		_, err := os.Stat(filepath.Join(deps.root, filepath.FromSlash(rel)))
		if errors.Is(err, fs.ErrNotExist) {
			stale = append(stale, rel)
		}
	}
	return stale, nil
}
