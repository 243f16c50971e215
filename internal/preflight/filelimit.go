package preflight

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"syscall"
)

const (
	// MinFileDescriptors is the floor for the soft open-file limit.
	MinFileDescriptors = 1024

	// fdHeadroom covers the process's own files on top of watches.
	fdHeadroom = 256

	// dirCountCap bounds the directory walk; larger repositories
	// compare against the cap.
	dirCountCap = 2048
)

// CheckFileDescriptors compares the soft open-file limit against the
// repository's directory count. Watch mode on kqueue platforms holds
// one descriptor per watched directory.
func (c *Checker) CheckFileDescriptors(root string) CheckResult {
	result := CheckResult{
		Name:     "file_descriptors",
		Required: false,
	}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	needed := uint64(countDirs(root) + fdHeadroom)
	if needed < MinFileDescriptors {
		needed = MinFileDescriptors
	}

	result.Message = fmt.Sprintf("%d (wanted: %d)", rLimit.Cur, needed)
	if rLimit.Cur < needed {
		result.Status = StatusWarn
		result.Details = "Run 'ulimit -n 10240' to raise the limit for watch mode"
		return result
	}

	result.Status = StatusPass
	return result
}

// countDirs counts repository directories, skipping hidden and
// dependency trees, stopping at dirCountCap.
func countDirs(root string) int {
	count := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
			return filepath.SkipDir
		}
		count++
		if count >= dirCountCap {
			return filepath.SkipAll
		}
		return nil
	})
	return count
}
