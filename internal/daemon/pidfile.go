package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrPIDFileNotFound is returned when the PID file doesn't exist.
var ErrPIDFileNotFound = errors.New("PID file not found")

// ErrAlreadyRunning is returned by Acquire when another process holds
// the PID file lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// PIDFile manages the daemon's process ID file. The file content is
// advisory; single-instance startup is guarded by an OS file lock on a
// sibling lock file, which the kernel releases when the process dies.
// A stale PID file from a crash therefore never blocks the next start.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire takes the startup lock and records the current PID.
// Returns ErrAlreadyRunning when another live process holds the lock.
func (p *PIDFile) Acquire() error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	locked, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock PID file: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	data := []byte(strconv.Itoa(os.Getpid()))
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		_ = p.lock.Unlock()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// Release removes the PID file and drops the lock.
func (p *PIDFile) Release() error {
	rmErr := os.Remove(p.path)
	_ = p.lock.Unlock()

	if rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("failed to remove PID file: %w", rmErr)
	}
	return nil
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrPIDFileNotFound
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// IsRunning checks if a process with the stored PID is running.
// Returns false if the PID file doesn't exist or the process is gone.
func (p *PIDFile) IsRunning() bool {
	pid, err := p.Read()
	if err != nil {
		return false
	}

	return processExists(pid)
}

// Signal sends a signal to the process with the stored PID.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	return nil
}

// processExists checks if a process with the given PID exists.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds; signal 0 probes whether the
	// process actually exists.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
