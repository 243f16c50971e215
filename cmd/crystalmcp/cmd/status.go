package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/daemon"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/state"
	"github.com/crystalmcp/crystalmcp/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOut bool
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show session progress and coverage",
		Long: `Show the processing session, analysis coverage, and storage use.

Reads persisted state only; the session is not modified and no claim
timers are touched. Use --watch for a live view that refreshes every
few seconds.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runStatus(ctx, cmd, path, jsonOut, watch)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh the display continuously")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, path string, jsonOut, watch bool) error {
	// Checked before dependencies are built: constructing the queue
	// creates the state directory, which would defeat this probe.
	root, err := resolveRoot(path)
	if err != nil {
		return err
	}
	if !state.Exists(state.Dir(root)) {
		return fmt.Errorf("no analysis state found in %s (run 'crystalmcp init' first)", root)
	}

	deps, err := loadRepo(path)
	if err != nil {
		return err
	}

	if watch {
		return ui.RunStatusWatch(ctx, cmd.OutOrStdout(), 0, func() (ui.StatusInfo, error) {
			return collectStatus(deps)
		})
	}

	info, err := collectStatus(deps)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOut {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// collectStatus assembles the status view from persisted state. The
// session snapshot is decoded directly so nothing (claims, activity
// timestamps) is mutated by looking at it.
func collectStatus(deps *repoDeps) (ui.StatusInfo, error) {
	info := ui.StatusInfo{Root: deps.root}

	snapPath := filepath.Join(state.Dir(deps.root), queue.SnapshotFile)
	var snap queue.Snapshot
	err := state.LoadJSON(snapPath, &snap)
	switch {
	case err == nil:
		fillSessionInfo(&info, &snap)
	case state.IsNotExist(err):
		// No session yet; coverage and storage still render.
	case state.IsCorrupt(err):
		slog.Warn("session snapshot unreadable",
			slog.String("path", snapPath),
			slog.String("error", err.Error()))
	default:
		return info, err
	}

	cov := deps.detector.Coverage()
	info.TrackedFiles = cov.TrackedFiles
	info.WithResults = cov.WithResults
	info.CoveragePercent = cov.Percentage
	info.ResultsSize = dirSize(deps.store.Dir())

	client := daemon.NewClient(daemon.DefaultConfig(deps.root))
	if client.IsRunning() {
		info.DaemonStatus = "running"
	} else {
		info.DaemonStatus = "stopped"
	}

	return info, nil
}

// fillSessionInfo maps a session snapshot onto the display struct.
func fillSessionInfo(info *ui.StatusInfo, snap *queue.Snapshot) {
	info.SessionID = snap.SessionID
	info.TotalFiles = snap.TotalFiles
	info.Processed = len(snap.Processed)
	info.Remaining = len(snap.Pending)
	if snap.TotalFiles > 0 {
		info.Percentage = float64(info.Processed) / float64(snap.TotalFiles) * 100
	}
	info.LastActivity = snap.LastActivity

	if snap.DurationSamples > 0 && info.Remaining > 0 {
		avg := snap.DurationTotalSeconds / float64(snap.DurationSamples)
		info.ETASeconds = avg * float64(info.Remaining)
	}

	byCat := make(map[string]ui.CategoryCount)
	for _, item := range snap.Pending {
		c := byCat[string(item.Category)]
		c.Pending++
		byCat[string(item.Category)] = c
	}
	for _, rel := range snap.Processed {
		cat := string(scanner.Classify(rel))
		c := byCat[cat]
		c.Processed++
		byCat[cat] = c
	}
	info.ByCategory = byCat
}

// dirSize totals the regular files under path. Unreadable entries are
// skipped.
func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
