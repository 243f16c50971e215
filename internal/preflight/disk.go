package preflight

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"
)

// MinDiskSpaceBytes is the free-space floor below which the disk check
// warns (100 MiB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace reports free space at the repository root. Refresh
// passes write little, so low space warns rather than fails.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: false,
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (floor: %s)",
		humanize.IBytes(availableBytes), humanize.IBytes(MinDiskSpaceBytes))

	if availableBytes < MinDiskSpaceBytes {
		result.Status = StatusWarn
		result.Details = "Free up disk space before large refresh passes"
		return result
	}

	result.Status = StatusPass
	return result
}
