package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/crystalmcp/crystalmcp/internal/scanner"
)

// SnapshotFile is the session snapshot's filename inside the state
// directory.
const SnapshotFile = "processing-queue.json"

// Snapshot is the durable state of one processing session, rewritten
// after every state-changing operation. It is the sole source of truth
// for resuming a session after a crash or restart.
type Snapshot struct {
	SessionID       string               `json:"session_id"`
	Root            string               `json:"root"`
	TotalFiles      int                  `json:"total_files"`
	Processed       []string             `json:"processed"`
	Pending         []*scanner.QueueItem `json:"pending"`
	StartedAt       time.Time            `json:"started_at"`
	LastActivity    time.Time            `json:"last_activity"`
	ExcludePatterns []string             `json:"exclude_patterns"`

	// Running-average inputs for ETA, carried across restarts.
	DurationTotalSeconds float64 `json:"duration_total_seconds,omitempty"`
	DurationSamples      int     `json:"duration_samples,omitempty"`
}

// newSessionID derives a stable-length identifier from the repository
// root and session start time.
func newSessionID(root string, start time.Time) string {
	h := sha256.Sum256([]byte(root + ":" + strconv.FormatInt(start.UnixNano(), 10)))
	return hex.EncodeToString(h[:])[:16]
}

// samePatternSet compares two exclusion-pattern lists as sets: order
// and duplicates are irrelevant.
func samePatternSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, p := range a {
		as[p] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, p := range b {
		bs[p] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for p := range as {
		if _, ok := bs[p]; !ok {
			return false
		}
	}
	return true
}
