package state

import (
	"os"
	"path/filepath"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
)

// DirName is the repo-local hidden directory holding all crystalmcp state.
const DirName = ".crystalmcp"

// Dir returns the state directory for a repository root.
func Dir(root string) string {
	return filepath.Join(root, DirName)
}

// EnsureDir creates the state directory if it does not exist.
func EnsureDir(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return crystalerrors.New(crystalerrors.ErrCodeStateDir,
			"failed to create state directory", err).
			WithDetail("path", stateDir)
	}
	return nil
}
