package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/output"
)

func newNextCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Claim the next file pending analysis",
		Long: `Claim the highest-priority pending file and print it.

A refresh pass runs first, so the claim always reflects the current
tree and a session persisted within the recovery window is resumed.
The claim expires after the session timeout unless the file is marked
processed with 'crystalmcp done'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runNext(ctx, cmd, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the claimed item as JSON")

	return cmd
}

func runNext(ctx context.Context, cmd *cobra.Command, jsonOut bool) error {
	out := output.New(cmd.OutOrStdout())

	deps, err := loadRepo(".")
	if err != nil {
		return err
	}

	stopLogging := deps.setupCommandLogging()
	defer stopLogging()

	if _, err := deps.quietRefresh(ctx); err != nil {
		return err
	}

	item, ok, err := deps.queue.NextItem()
	if err != nil {
		return err
	}
	if !ok {
		if jsonOut {
			return out.JSON(map[string]any{"pending": 0})
		}
		out.Success("No files pending analysis")
		out.Status("💡", "Run 'crystalmcp refresh --force' to requeue everything")
		return nil
	}

	progress, err := deps.queue.Progress()
	if err != nil {
		return err
	}

	if jsonOut {
		return out.JSON(map[string]any{
			"item":     item,
			"progress": progress,
		})
	}

	out.Statusf("📄", "%s", item.Path)
	out.Field("Category", string(item.Category))
	if item.Language != "" {
		out.Field("Language", item.Language)
	}
	out.Field("Size", humanize.Bytes(uint64(item.Size)))
	out.Field("Priority", item.Priority)
	out.Field("Est. tokens", item.EstimatedTokens)
	out.Newline()
	out.Statusf("📊", "Progress: %d of %d processed (%.1f%%)",
		progress.Processed, progress.Total, progress.Percentage)
	out.Statusf("💡", "When finished: crystalmcp done %s", item.Path)

	return nil
}
