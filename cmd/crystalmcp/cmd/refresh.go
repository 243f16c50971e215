package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/output"
	"github.com/crystalmcp/crystalmcp/internal/state"
	"github.com/crystalmcp/crystalmcp/internal/ui"
)

func newRefreshCmd() *cobra.Command {
	var (
		noTUI   bool
		force   bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "refresh [path]",
		Short: "Scan the repository and update the processing queue",
		Long: `Scan the repository, detect changed files, and seed the queue.

New and modified files are queued for analysis; results of deleted
files are cleaned up. A session persisted within the recovery window
is resumed, so completed work survives restarts.

Use --force to discard the recorded manifest and session first, which
requeues every file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runRefresh(ctx, cmd, path, noTUI, force, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the progress display (plain text output)")
	cmd.Flags().BoolVar(&force, "force", false, "Discard the manifest and session, requeue everything")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the summary as JSON")

	return cmd
}

func runRefresh(ctx context.Context, cmd *cobra.Command, path string, noTUI, force, jsonOut bool) error {
	out := output.New(cmd.OutOrStdout())

	if err := ensureDir(path); err != nil {
		return err
	}

	deps, err := loadRepo(path)
	if err != nil {
		return err
	}

	stopLogging := deps.setupCommandLogging()
	defer stopLogging()

	if force {
		if err := state.Remove(deps.detector.ManifestPath()); err != nil {
			return fmt.Errorf("failed to discard manifest: %w", err)
		}
		if err := deps.queue.ClearSession(); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
	}

	// In JSON mode progress goes to stderr so stdout carries only the
	// summary document.
	progressOut := cmd.OutOrStdout()
	if jsonOut {
		progressOut = cmd.ErrOrStderr()
	}
	renderer := ui.NewRenderer(ui.NewConfig(progressOut,
		ui.WithForcePlain(noTUI || jsonOut),
		ui.WithRepoDir(deps.root)))

	refresher, err := deps.refresherFor(renderer)
	if err != nil {
		return err
	}

	start := time.Now()
	summary, err := refresher.Run(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	if jsonOut {
		return out.JSON(summary)
	}

	out.Newline()
	if summary.Recovered {
		out.Statusf("♻️ ", "Resumed session %s", summary.SessionID)
	}
	out.Successf("Refresh complete in %.1fs", time.Since(start).Seconds())
	out.Field("Scanned", summary.Scanned)
	out.Field("Queued", summary.Queued)
	if summary.Added > 0 {
		out.Field("Added", summary.Added)
	}
	if summary.Modified > 0 {
		out.Field("Modified", summary.Modified)
	}
	if summary.Deleted > 0 {
		out.Field("Deleted", summary.Deleted)
	}
	if summary.Cleaned > 0 {
		out.Field("Cleaned results", summary.Cleaned)
	}

	return nil
}
