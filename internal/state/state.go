// Package state provides the persistence primitives shared by the queue,
// manifest, and result stores: atomic JSON writes (temp file + rename) and
// corrupt-tolerant loads. Every shared file is replaced wholesale, never
// partially mutated, so a crash mid-write can only ever leave the previous
// complete version visible.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
)

// SaveJSON marshals v with indentation and writes it atomically to path,
// creating parent directories as needed.
func SaveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return crystalerrors.PersistError("failed to create state directory", err).
			WithDetail("path", path)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return crystalerrors.PersistError("failed to marshal state", err).
			WithDetail("path", path)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return crystalerrors.PersistError("failed to write state file", err).
			WithDetail("path", path)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return crystalerrors.PersistError("failed to replace state file", err).
			WithDetail("path", path)
	}

	return nil
}

// SaveBytes writes raw bytes atomically to path, creating parent
// directories as needed. Used for non-JSON artifacts such as analysis
// documents.
func SaveBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return crystalerrors.PersistError("failed to create state directory", err).
			WithDetail("path", path)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return crystalerrors.PersistError("failed to write state file", err).
			WithDetail("path", path)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return crystalerrors.PersistError("failed to replace state file", err).
			WithDetail("path", path)
	}

	return nil
}

// LoadJSON reads path into v. A missing file yields a not-found error; an
// unreadable or unparseable file yields a corrupt-state error, which callers
// treat the same as "no prior state".
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return crystalerrors.New(crystalerrors.ErrCodeFileNotFound,
			"state file not found", err).WithDetail("path", path)
	}
	if err != nil {
		return crystalerrors.New(crystalerrors.ErrCodeStateCorrupt,
			"state file unreadable", err).WithDetail("path", path)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return crystalerrors.New(crystalerrors.ErrCodeStateCorrupt,
			"state file malformed", err).WithDetail("path", path)
	}

	return nil
}

// IsNotExist reports whether err marks a missing state file.
func IsNotExist(err error) bool {
	return crystalerrors.GetCode(err) == crystalerrors.ErrCodeFileNotFound
}

// IsCorrupt reports whether err marks unreadable or malformed state.
func IsCorrupt(err error) bool {
	return crystalerrors.GetCode(err) == crystalerrors.ErrCodeStateCorrupt
}

// EnsureFile creates path with content if it does not exist yet.
// An existing file is left untouched. Returns true when the file was created.
func EnsureFile(path string, content string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, crystalerrors.PersistError("failed to create state directory", err).
			WithDetail("path", path)
	}

	// O_EXCL gives create-if-absent semantics in one atomic operation.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, crystalerrors.PersistError("failed to create file", err).
			WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(content); err != nil {
		return false, crystalerrors.PersistError("failed to write file", err).
			WithDetail("path", path)
	}

	return true, nil
}

// ReadTrimmed reads path and returns its content with surrounding whitespace
// removed.
func ReadTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", crystalerrors.New(crystalerrors.ErrCodeFileNotFound,
			"file not found", err).WithDetail("path", path)
	}
	if err != nil {
		return "", crystalerrors.New(crystalerrors.ErrCodeStateCorrupt,
			"file unreadable", err).WithDetail("path", path)
	}

	return strings.TrimSpace(string(data)), nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes path, treating a missing file as success.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return crystalerrors.PersistError("failed to remove file", err).
			WithDetail("path", path)
	}
	return nil
}
