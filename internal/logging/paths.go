package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFileName is the base name of the crystalmcp log file.
const LogFileName = "crystalmcp.log"

// DefaultLogDir returns the global log directory (~/.crystalmcp/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".crystalmcp", "logs")
	}
	return filepath.Join(home, ".crystalmcp", "logs")
}

// DefaultLogPath returns the global log file path, used before a repository
// root is known.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), LogFileName)
}

// RepoLogPath returns the log file path inside a repository state directory.
func RepoLogPath(stateDir string) string {
	return filepath.Join(stateDir, "logs", LogFileName)
}

// FindLogFile locates the log file for viewing.
// Priority: explicit path, repository-local log, global log.
func FindLogFile(explicit, stateDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	if stateDir != "" {
		repoPath := RepoLogPath(stateDir)
		if _, err := os.Stat(repoPath); err == nil {
			return repoPath, nil
		}
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found (expected at %s); nothing has logged yet", globalPath)
}
