package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/daemon"
	"github.com/crystalmcp/crystalmcp/internal/logging"
	"github.com/crystalmcp/crystalmcp/internal/output"
	"github.com/crystalmcp/crystalmcp/internal/state"
	"github.com/crystalmcp/crystalmcp/internal/ui"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background watch daemon",
		Long: `The daemon watches the repository and keeps the queue current.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and health

The daemon batches filesystem events, runs a refresh pass after each
quiet period, and sweeps expired claims during idle maintenance, so
workers always see an up-to-date queue without running refresh by hand.

Examples:
  crystalmcp daemon start      # Start daemon in background
  crystalmcp daemon start -f   # Run in foreground (for debugging)
  crystalmcp daemon status     # Check if daemon is running
  crystalmcp daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the watch daemon for the current repository.

The daemon refreshes the queue automatically as files change. By
default it runs in the background.

Use --foreground for debugging or to see logs in real-time.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runDaemonStart(ctx, cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running watch daemon.

Asks the daemon to shut down over its socket, falling back to SIGTERM
via the PID file when the socket does not answer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop(cmd.Context(), cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Show the current status of the watch daemon.

Displays whether the daemon is running, its process ID, uptime, the
session it serves, and how many refresh passes it has run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// daemonConfig builds the daemon configuration for one repository,
// applying the configured debounce and maintenance cadence.
func daemonConfig(deps *repoDeps) daemon.Config {
	cfg := daemon.DefaultConfig(deps.root)
	cfg.DebounceWindow = deps.cfg.WatchDebounceDuration()
	if d, err := time.ParseDuration(deps.cfg.Daemon.MaintenanceInterval); err == nil && d > 0 {
		cfg.MaintenanceInterval = d
	}
	return cfg
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	out := output.New(cmd.OutOrStdout())

	deps, err := loadRepo(".")
	if err != nil {
		return err
	}
	cfg := daemonConfig(deps)

	client := daemon.NewClient(cfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		logCfg := logging.RepoConfig(state.Dir(deps.root), deps.cfg.Server.LogLevel)
		logCfg.WriteToStderr = true
		if logger, cleanup, err := logging.Setup(logCfg); err == nil {
			slog.SetDefault(logger)
			defer cleanup()
		}

		out.Status("", "Starting daemon in foreground...")
		out.Status("", fmt.Sprintf("Socket: %s", cfg.SocketPath))
		out.Status("", fmt.Sprintf("Logs: %s", cfg.LogPath))
		out.Status("", "Press Ctrl+C to stop")
		out.Newline()

		slog.Info("daemon_foreground_start",
			slog.String("socket", cfg.SocketPath),
			slog.String("log_file", cfg.LogPath))

		refresher, err := deps.refresherFor(ui.NewPlainRenderer(ui.NewConfig(io.Discard)))
		if err != nil {
			return err
		}

		d, err := daemon.NewDaemon(cfg, daemon.Dependencies{
			Scanner:   deps.scanner,
			Detector:  deps.detector,
			Queue:     deps.queue,
			Store:     deps.store,
			Refresher: refresher,
		})
		if err != nil {
			slog.Error("daemon_create_failed", slog.String("error", err.Error()))
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		return d.Start(ctx)
	}

	// Run in background.
	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--foreground")
	bgCmd.Dir = deps.root
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil

	// Detach from parent.
	bgCmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child on eventual exit and detect premature failures.
	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Success(fmt.Sprintf("Daemon started (pid: %d)", bgCmd.Process.Pid))
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonStop(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	deps, err := loadRepo(".")
	if err != nil {
		return err
	}
	cfg := daemonConfig(deps)

	client := daemon.NewClient(cfg)
	pidFile := daemon.NewPIDFile(cfg.PIDPath)

	if !client.IsRunning() && !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	// Prefer the socket: the daemon shuts down cleanly and releases
	// its own pidfile.
	if err := client.Stop(ctx); err == nil {
		for i := 0; i < 50; i++ {
			time.Sleep(100 * time.Millisecond)
			if !pidFile.IsRunning() {
				out.Success("Daemon stopped")
				return nil
			}
		}
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Success(fmt.Sprintf("Daemon stopped (was pid: %d)", pid))
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}

	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	deps, err := loadRepo(".")
	if err != nil {
		return err
	}
	cfg := daemonConfig(deps)

	client := daemon.NewClient(cfg)

	if !client.IsRunning() {
		if jsonOutput {
			status := daemon.StatusResult{Running: false}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'crystalmcp daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Status("", "Daemon is running")
	out.Status("", fmt.Sprintf("  PID:       %d", status.PID))
	out.Status("", fmt.Sprintf("  Uptime:    %s", status.Uptime))
	if status.SessionID != "" {
		out.Status("", fmt.Sprintf("  Session:   %s", status.SessionID))
		out.Status("", fmt.Sprintf("  Progress:  %d of %d processed", status.Processed, status.Total))
	}
	out.Status("", fmt.Sprintf("  Refreshes: %d", status.RefreshCount))
	if status.LastRefresh != "" {
		out.Status("", fmt.Sprintf("  Last:      %s", status.LastRefresh))
	}
	out.Status("", fmt.Sprintf("  Socket:    %s", cfg.SocketPath))

	return nil
}
