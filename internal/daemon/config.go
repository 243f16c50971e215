// Package daemon provides the background watch service. The daemon
// holds an fsnotify watcher on one repository, turns debounced change
// batches into refresh passes, answers status/refresh/stop requests
// over a Unix socket, and runs idle-time maintenance on the shared
// state files.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crystalmcp/crystalmcp/internal/logging"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

// Config holds configuration for the daemon service.
type Config struct {
	// Root is the repository the daemon watches and serves.
	Root string

	// SocketPath is the Unix domain socket path for IPC.
	// Default: <root>/.crystalmcp/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: <root>/.crystalmcp/daemon.pid
	PIDPath string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod bounds how long shutdown waits for the event
	// loop and maintenance to wind down. Default: 10s
	ShutdownGracePeriod time.Duration

	// DebounceWindow is the watcher's coalescing window. Zero uses the
	// watcher default (200ms).
	DebounceWindow time.Duration

	// MaintenanceInterval is the cadence of idle maintenance passes.
	// Default: 30m
	MaintenanceInterval time.Duration

	// LogPath is the log file whose rotated generations maintenance
	// prunes. Empty skips log retention.
	LogPath string

	// LogMaxFiles is how many rotated log generations to keep.
	// Default: 5
	LogMaxFiles int
}

// DefaultConfig returns a Config for the given repository root.
func DefaultConfig(root string) Config {
	stateDir := state.Dir(root)

	return Config{
		Root:                root,
		SocketPath:          filepath.Join(stateDir, "daemon.sock"),
		PIDPath:             filepath.Join(stateDir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		MaintenanceInterval: 30 * time.Minute,
		LogPath:             logging.RepoLogPath(stateDir),
		LogMaxFiles:         5,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("repository root cannot be empty")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("maintenance interval must be positive")
	}
	return nil
}

// EnsureDir creates the directories for the socket and PID files.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0o755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}

	return nil
}
