package manifest

import (
	"log/slog"
	"os"
	"sort"
)

// Coverage summarizes how much of the tracked tree has stored analysis
// results, derived from the manifest without re-scanning.
type Coverage struct {
	TrackedFiles int     `json:"tracked_files"`
	WithResults  int     `json:"with_results"`
	Percentage   float64 `json:"percentage"`
}

// NeedingAnalysis returns tracked files that had no stored result at the
// last detection pass, sorted by relative path.
func (d *Detector) NeedingAnalysis() []Entry {
	m := d.load()

	var entries []Entry
	for _, e := range m.Files {
		if !e.HasAnalysis {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)
	return entries
}

// Outdated returns previously analyzed files whose source has changed or
// vanished since the result was produced: the invalidation set. A result
// is stale when its modification time is older than the source's.
func (d *Detector) Outdated() []Entry {
	m := d.load()

	var entries []Entry
	for _, e := range m.Files {
		if !e.HasAnalysis {
			continue
		}

		info, err := os.Stat(e.Path)
		if err != nil {
			// Source gone; its result is invalid.
			entries = append(entries, e)
			continue
		}

		resultMT, ok := d.store.ModTime(e.RelPath)
		if !ok {
			// Result vanished since the last pass; nothing to invalidate.
			continue
		}
		if resultMT.Before(info.ModTime()) {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)
	return entries
}

// Coverage reports tracked files, files with results, and the resulting
// percentage. An empty manifest reports zero coverage.
func (d *Detector) Coverage() Coverage {
	m := d.load()

	cov := Coverage{TrackedFiles: len(m.Files)}
	for _, e := range m.Files {
		if e.HasAnalysis {
			cov.WithResults++
		}
	}
	if cov.TrackedFiles > 0 {
		cov.Percentage = float64(cov.WithResults) / float64(cov.TrackedFiles) * 100
	}
	return cov
}

// Cleanup deletes the stored result and metadata for each given relative
// path, tolerating already-missing files, and returns how many results
// were actually removed. Deletion failures are logged and skipped.
func (d *Detector) Cleanup(relPaths []string) int {
	removed := 0
	for _, rel := range relPaths {
		if !d.store.Has(rel) {
			continue
		}
		if err := d.store.Delete(rel); err != nil {
			slog.Warn("cleanup_delete_failed",
				slog.String("path", rel),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.Info("cleanup_complete", slog.Int("removed", removed))
	}
	return removed
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})
}
