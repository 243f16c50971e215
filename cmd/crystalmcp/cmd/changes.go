package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/output"
)

func newChangesCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "changes [path]",
		Short: "Report files changed since the last refresh",
		Long: `Scan the repository and compare it against the recorded manifest.

The comparison is a preview: the manifest is not updated and nothing
is queued, so a following 'crystalmcp refresh' sees the same changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runChanges(ctx, cmd, path, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the change set as JSON")

	return cmd
}

func runChanges(ctx context.Context, cmd *cobra.Command, path string, jsonOut bool) error {
	out := output.New(cmd.OutOrStdout())

	deps, err := loadRepo(path)
	if err != nil {
		return err
	}

	stopLogging := deps.setupCommandLogging()
	defer stopLogging()

	items, err := deps.scanner.ScanSorted(ctx, scanOptionsFrom(deps.root, deps.cfg))
	if err != nil {
		return err
	}

	result, err := deps.detector.PreviewChanges(ctx, items)
	if err != nil {
		return err
	}

	if jsonOut {
		return out.JSON(map[string]any{
			"added":    result.Added,
			"modified": result.Modified,
			"deleted":  result.Deleted,
			"tracked":  result.Tracked,
			"changes":  result.Changes,
		})
	}

	if len(result.Changes) == 0 {
		out.Success("No changes since the last refresh")
		out.Field("Tracked files", result.Tracked)
		return nil
	}

	out.Statusf("🔍", "%d added, %d modified, %d deleted",
		result.Added, result.Modified, result.Deleted)
	out.Newline()

	for _, change := range result.Changes {
		switch change.Type {
		case manifest.ChangeAdded:
			out.Statusf("  +", "%s", change.RelPath)
		case manifest.ChangeModified:
			out.Statusf("  ~", "%s", change.RelPath)
		case manifest.ChangeDeleted:
			out.Statusf("  -", "%s", change.RelPath)
		}
	}

	out.Newline()
	out.Status("💡", "Run 'crystalmcp refresh' to queue these files")

	return nil
}
