package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/output"
	"github.com/crystalmcp/crystalmcp/internal/validation"
)

func newDoneCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "done <path>",
		Short: "Mark a claimed file as processed",
		Long: `Mark a file as processed and release its claim.

The path is relative to the repository root. Marking is idempotent:
repeating it for an already-processed file is not an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDone(ctx, cmd, args[0], jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the updated progress as JSON")

	return cmd
}

func runDone(ctx context.Context, cmd *cobra.Command, path string, jsonOut bool) error {
	out := output.New(cmd.OutOrStdout())

	deps, err := loadRepo(".")
	if err != nil {
		return err
	}

	stopLogging := deps.setupCommandLogging()
	defer stopLogging()

	rel, err := validation.RepoRelative(deps.root, path)
	if err != nil {
		return err
	}

	if _, err := deps.quietRefresh(ctx); err != nil {
		return err
	}

	if err := deps.queue.MarkProcessed(rel); err != nil {
		return err
	}

	progress, err := deps.queue.Progress()
	if err != nil {
		return err
	}

	if jsonOut {
		return out.JSON(progress)
	}

	out.Successf("Marked %s processed (%d of %d)", rel, progress.Processed, progress.Total)
	if progress.Remaining == 0 {
		out.Status("🎉", "All files processed")
	}

	return nil
}
