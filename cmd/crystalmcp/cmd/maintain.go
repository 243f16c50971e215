package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/daemon"
	"github.com/crystalmcp/crystalmcp/internal/logging"
	"github.com/crystalmcp/crystalmcp/internal/output"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

func newMaintainCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "maintain [path]",
		Short: "Run a maintenance pass over the analysis state",
		Long: `Sweep expired claims, prune orphaned results, and cap rotated logs.

The watch daemon runs the same pass during idle periods; this command
covers repositories where no daemon is running.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runMaintain(cmd, path, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the report as JSON")

	return cmd
}

func runMaintain(cmd *cobra.Command, path string, jsonOut bool) error {
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

	maintainer := &daemon.Maintainer{
		Root:        deps.root,
		Queue:       deps.queue,
		Store:       deps.store,
		Detector:    deps.detector,
		LogPath:     logging.RepoLogPath(state.Dir(deps.root)),
		LogMaxFiles: 5,
	}

	report := maintainer.Run()

	if jsonOut {
		return out.JSON(report)
	}

	out.Successf("Maintenance complete in %s", time.Duration(report.DurationMs)*time.Millisecond)
	out.Field("Claims swept", report.ClaimsSwept)
	out.Field("Results pruned", report.ResultsPruned)
	out.Field("Logs removed", report.LogsRemoved)

	return nil
}
