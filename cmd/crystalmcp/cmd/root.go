// Package cmd provides the CLI commands for crystalmcp.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/config"
	"github.com/crystalmcp/crystalmcp/internal/logging"
	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/preflight"
	"github.com/crystalmcp/crystalmcp/internal/profiling"
	"github.com/crystalmcp/crystalmcp/internal/state"
	"github.com/crystalmcp/crystalmcp/pkg/version"
)

// Profiling flags.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Debug logging flag.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the crystalmcp CLI.
func NewRootCmd() *cobra.Command {
	var forceRefresh bool
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "crystalmcp",
		Short: "Exhaustive file-by-file repository analysis over MCP",
		Long: `CrystalMCP coordinates exhaustive file-by-file analysis of a repository.

It scans the tree, detects changed files by content hash, and hands them
out one at a time over MCP to AI workers such as Claude Code. Every step
is persisted, so interrupted sessions resume where they left off.

Just run 'crystalmcp' in your repository to serve the work queue.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context(), forceRefresh, skipCheck)
		},
	}

	cmd.SetVersionTemplate("crystalmcp version {{.Version}}\n")

	cmd.Flags().BoolVar(&forceRefresh, "refresh", false, "Run a refresh pass even when the session looks current")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to the log file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newNextCmd())
	cmd.AddCommand(newDoneCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newChangesCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newMaintainCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging
// when the corresponding persistent flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to set up debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()))
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging and writes the
// heap profile if one was requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault implements the bare-invocation flow: quiet preflight,
// a catch-up refresh pass when the repository has never been scanned,
// then the MCP server on stdio.
//
// MCP clients own stdout exclusively for JSON-RPC, so nothing may be
// printed here. Diagnostics go to the log file; 'crystalmcp status' and
// 'crystalmcp doctor' cover the interactive cases.
func runSmartDefault(ctx context.Context, forceRefresh, skipCheck bool) error {
	root, err := resolveRoot(".")
	if err != nil {
		return err
	}
	stateDir := state.Dir(root)

	if !skipCheck && preflight.NeedsCheck(stateDir) {
		checker := preflight.New(preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx, root)

		if checker.HasCriticalFailures(results) {
			slog.Error("preflight_failed",
				slog.String("hint", "run 'crystalmcp doctor' for diagnostics"))
			return fmt.Errorf("system check failed")
		}
		if err := preflight.MarkPassed(stateDir); err != nil {
			slog.Debug("preflight_marker_write_failed", slog.String("error", err.Error()))
		}
	}

	// First run in this repository: seed the session before serving so
	// the first next_file call has work to hand out.
	if forceRefresh || !state.Exists(filepath.Join(stateDir, manifest.ManifestFile)) {
		cfg, err := config.Load(root)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		deps, err := buildDeps(root, cfg)
		if err != nil {
			return err
		}

		summary, err := deps.quietRefresh(ctx)
		if err != nil {
			slog.Error("initial_refresh_failed", slog.String("error", err.Error()))
			return fmt.Errorf("refresh failed: %w", err)
		}
		slog.Info("initial_refresh_complete",
			slog.String("session_id", summary.SessionID),
			slog.Int("scanned", summary.Scanned),
			slog.Int("queued", summary.Queued))
	}

	return runServe(ctx, "")
}
