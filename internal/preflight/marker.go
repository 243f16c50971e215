package preflight

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/crystalmcp/crystalmcp/internal/state"
)

// MarkerFile records when preflight checks last passed, relative to the
// state directory.
const MarkerFile = ".preflight-passed"

func markerPath(stateDir string) string {
	return filepath.Join(stateDir, MarkerFile)
}

// NeedsCheck reports whether preflight checks should run: true until a
// marker exists in the state directory.
func NeedsCheck(stateDir string) bool {
	return !state.Exists(markerPath(stateDir))
}

// MarkPassed writes the marker with the current time, creating the
// state directory if needed.
func MarkPassed(stateDir string) error {
	if err := state.EnsureDir(stateDir); err != nil {
		return err
	}
	return state.SaveBytes(markerPath(stateDir), []byte(time.Now().Format(time.RFC3339)+"\n"))
}

// ClearMarker removes the marker, forcing a re-check on the next run.
// A missing marker is success.
func ClearMarker(stateDir string) error {
	return state.Remove(markerPath(stateDir))
}

// MarkerAge returns how long ago the checks passed, zero when the
// marker is missing or unreadable.
func MarkerAge(stateDir string) time.Duration {
	raw, err := state.ReadTrimmed(markerPath(stateDir))
	if err != nil {
		return 0
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0
	}
	return time.Since(t)
}

// CheckFirstRun reports marker state. Informational: a first run is not
// a problem, so this never warns.
func (c *Checker) CheckFirstRun(stateDir string) CheckResult {
	result := CheckResult{
		Name:     "first_run",
		Required: false,
		Status:   StatusPass,
	}

	if NeedsCheck(stateDir) {
		result.Message = "first run (no previous check recorded)"
		return result
	}

	if age := MarkerAge(stateDir); age > 0 {
		now := time.Now()
		result.Message = fmt.Sprintf("checks last passed %s",
			humanize.RelTime(now.Add(-age), now, "ago", "from now"))
	} else {
		result.Message = "checks previously passed"
	}
	return result
}
