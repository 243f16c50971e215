package daemon

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/crystalmcp/crystalmcp/internal/logging"
	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/results"
)

// Maintainer runs housekeeping over a repository's shared state:
// expired claim leases, result documents whose source file is gone, and
// rotated log generations beyond retention. The daemon runs it on a
// timer; the CLI runs a single pass on demand.
type Maintainer struct {
	Root        string
	Queue       *queue.Manager
	Store       *results.Store
	Detector    *manifest.Detector
	LogPath     string
	LogMaxFiles int
}

// MaintenanceReport counts what one maintenance pass cleaned up.
type MaintenanceReport struct {
	ClaimsSwept   int   `json:"claims_swept"`
	ResultsPruned int   `json:"results_pruned"`
	LogsRemoved   int   `json:"logs_removed"`
	DurationMs    int64 `json:"duration_ms"`
}

// Run performs one maintenance pass. A failure in one area is logged
// and does not stop the others.
func (m *Maintainer) Run() MaintenanceReport {
	start := time.Now()
	var report MaintenanceReport

	swept, err := m.Queue.SweepExpiredClaims()
	if err != nil {
		slog.Warn("maintenance_claim_sweep_failed", slog.String("error", err.Error()))
	}
	report.ClaimsSwept = swept

	report.ResultsPruned = m.pruneOrphanedResults()

	if m.LogPath != "" {
		removed, err := logging.PruneRotated(m.LogPath, m.LogMaxFiles)
		if err != nil {
			slog.Warn("maintenance_log_prune_failed", slog.String("error", err.Error()))
		}
		report.LogsRemoved = removed
	}

	report.DurationMs = time.Since(start).Milliseconds()

	slog.Info("maintenance_complete",
		slog.Int("claims_swept", report.ClaimsSwept),
		slog.Int("results_pruned", report.ResultsPruned),
		slog.Int("logs_removed", report.LogsRemoved),
		slog.Duration("duration", time.Since(start)))

	return report
}

// pruneOrphanedResults deletes result documents whose source file no
// longer exists in the repository. Normal refresh passes catch these
// too; this covers deletions that happened while nothing was watching.
func (m *Maintainer) pruneOrphanedResults() int {
	rels, err := m.Store.List()
	if err != nil {
		slog.Warn("maintenance_list_failed", slog.String("error", err.Error()))
		return 0
	}

	var stale []string
	for _, rel := range rels {
		abs := filepath.Join(m.Root, filepath.FromSlash(rel))
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			stale = append(stale, rel)
		}
	}
	if len(stale) == 0 {
		return 0
	}

	return m.Detector.Cleanup(stale)
}
