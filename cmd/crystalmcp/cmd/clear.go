package cmd

import (
	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/output"
)

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [path]",
		Short: "Drop the processing session",
		Long: `Drop the session snapshot and all outstanding claims.

Stored analysis results and the change manifest are kept, so the next
refresh only queues files without a fresh result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runClear(cmd, path)
		},
	}

	return cmd
}

func runClear(cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	deps, err := loadRepo(path)
	if err != nil {
		return err
	}

	stopLogging := deps.setupCommandLogging()
	defer stopLogging()

	if err := deps.queue.ClearSession(); err != nil {
		return err
	}

	out.Success("Session cleared")
	out.Status("💡", "Run 'crystalmcp refresh' to start a new session")

	return nil
}
