// Package manifest tracks per-file content hashes between scans and
// derives change sets from them. The manifest file is replaced wholesale
// on every detection pass, so a crash mid-write can never leave a
// half-updated manifest visible to the next read.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

// ManifestFile is the manifest's filename inside the state directory.
const ManifestFile = "file-hash-manifest.json"

const manifestVersion = "1"

// Entry is one tracked file: its content hash at the last completed
// scan plus whether an analysis result existed at that point.
type Entry struct {
	Path        string    `json:"path"`
	RelPath     string    `json:"rel_path"`
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	HasAnalysis bool      `json:"has_analysis"`
}

// Manifest is the persisted mapping from absolute path to Entry,
// representing the last completed scan.
type Manifest struct {
	Version     string           `json:"version"`
	GeneratedAt time.Time        `json:"generated_at"`
	Root        string           `json:"root"`
	Files       map[string]Entry `json:"files"`
}

// ChangeType classifies one detected difference.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Change is one detected difference between the stored manifest and the
// current scan. Produced transiently; only the manifest persists.
type Change struct {
	Path       string     `json:"path"`
	RelPath    string     `json:"rel_path"`
	Type       ChangeType `json:"type"`
	OldHash    string     `json:"old_hash,omitempty"`
	NewHash    string     `json:"new_hash,omitempty"`
	Size       int64      `json:"size"`
	DetectedAt time.Time  `json:"detected_at"`
}

// DetectResult pairs the change set of one pass with its counts.
type DetectResult struct {
	Changes  []Change
	Added    int
	Modified int
	Deleted  int
	// Tracked is the number of files in the updated manifest.
	Tracked int
}

// ResultStore is the slice of the result-storage collaborator the
// detector needs: existence, freshness, and deletion of stored results.
type ResultStore interface {
	Has(relPath string) bool
	ModTime(relPath string) (time.Time, bool)
	Delete(relPath string) error
}

// Detector computes change sets for one repository.
type Detector struct {
	root    string
	path    string
	store   ResultStore
	workers int
}

// NewDetector creates a change detector for the repository at root.
// workers bounds hashing parallelism; zero or negative selects NumCPU.
func NewDetector(root string, store ResultStore, workers int) *Detector {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Detector{
		root:    root,
		path:    filepath.Join(state.Dir(root), ManifestFile),
		store:   store,
		workers: workers,
	}
}

// ManifestPath returns the on-disk location of the manifest.
func (d *Detector) ManifestPath() string {
	return d.path
}

// load returns the stored manifest. Absent or corrupt files both come
// back as an empty manifest; corruption is logged, never fatal.
func (d *Detector) load() *Manifest {
	var m Manifest
	err := state.LoadJSON(d.path, &m)
	switch {
	case err == nil && m.Files != nil:
		return &m
	case err == nil:
		m.Files = map[string]Entry{}
		return &m
	case state.IsNotExist(err):
	case state.IsCorrupt(err):
		slog.Warn("manifest_corrupt_starting_fresh",
			slog.String("path", d.path),
			slog.String("error", err.Error()))
	default:
		slog.Warn("manifest_unreadable_starting_fresh",
			slog.String("path", d.path),
			slog.String("error", err.Error()))
	}
	return &Manifest{Version: manifestVersion, Files: map[string]Entry{}}
}

// DetectChanges hashes the current items, diffs them against the stored
// manifest, and atomically replaces the manifest with the new state. The
// manifest is rewritten even when nothing changed, because modification
// times and has-analysis flags must stay current regardless.
//
// First run (no stored manifest) reports every item as added. A file in
// the old manifest but missing from the scan is reported deleted only
// when a stored result exists for it; otherwise there is nothing to
// clean up.
func (d *Detector) DetectChanges(ctx context.Context, items []*scanner.QueueItem) (*DetectResult, error) {
	prev := d.load()
	now := time.Now().UTC()

	entries, err := d.hashItems(ctx, items)
	if err != nil {
		return nil, err
	}

	result, next := d.diff(prev, entries, now)

	if err := state.SaveJSON(d.path, next); err != nil {
		return nil, err
	}

	slog.Info("change_detection_complete",
		slog.Int("tracked", result.Tracked),
		slog.Int("added", result.Added),
		slog.Int("modified", result.Modified),
		slog.Int("deleted", result.Deleted))

	return result, nil
}

// PreviewChanges reports what a detection pass would record without
// touching the manifest. Two consecutive previews over an unchanged
// tree report the same change set.
func (d *Detector) PreviewChanges(ctx context.Context, items []*scanner.QueueItem) (*DetectResult, error) {
	prev := d.load()

	entries, err := d.hashItems(ctx, items)
	if err != nil {
		return nil, err
	}

	result, _ := d.diff(prev, entries, time.Now().UTC())
	return result, nil
}

// diff compares hashed entries against a prior manifest and builds both
// the change set and the manifest that would replace it.
func (d *Detector) diff(prev *Manifest, entries []Entry, now time.Time) (*DetectResult, *Manifest) {
	next := &Manifest{
		Version:     manifestVersion,
		GeneratedAt: now,
		Root:        d.root,
		Files:       make(map[string]Entry, len(entries)),
	}

	result := &DetectResult{}
	for _, e := range entries {
		next.Files[e.Path] = e

		old, existed := prev.Files[e.Path]
		switch {
		case !existed:
			result.Changes = append(result.Changes, Change{
				Path: e.Path, RelPath: e.RelPath, Type: ChangeAdded,
				NewHash: e.Hash, Size: e.Size, DetectedAt: now,
			})
			result.Added++
		case old.Hash != e.Hash:
			result.Changes = append(result.Changes, Change{
				Path: e.Path, RelPath: e.RelPath, Type: ChangeModified,
				OldHash: old.Hash, NewHash: e.Hash, Size: e.Size, DetectedAt: now,
			})
			result.Modified++
		}
	}

	var deleted []Change
	for path, old := range prev.Files {
		if _, still := next.Files[path]; still {
			continue
		}
		// The live store decides, not the recorded flag: results usually
		// land between detection passes.
		if !d.store.Has(old.RelPath) {
			continue
		}
		deleted = append(deleted, Change{
			Path: path, RelPath: old.RelPath, Type: ChangeDeleted,
			OldHash: old.Hash, Size: old.Size, DetectedAt: now,
		})
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].Path < deleted[j].Path })
	result.Changes = append(result.Changes, deleted...)
	result.Deleted = len(deleted)
	result.Tracked = len(next.Files)

	return result, next
}

// hashItems hashes all items in parallel, preserving item order. Items
// whose file vanished or became unreadable mid-pass are skipped.
func (d *Detector) hashItems(ctx context.Context, items []*scanner.QueueItem) ([]Entry, error) {
	hashed := make([]*Entry, len(items))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, d.workers)

	for i, item := range items {
		i, item := i, item

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}

			hash, err := HashFile(item.AbsPath)
			if err != nil {
				slog.Debug("hash_skipped",
					slog.String("path", item.Path),
					slog.String("error", err.Error()))
				return nil
			}

			hashed[i] = &Entry{
				Path:        item.AbsPath,
				RelPath:     item.Path,
				Hash:        hash,
				Size:        item.Size,
				ModTime:     item.ModTime,
				HasAnalysis: d.store.Has(item.Path),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, e := range hashed {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, nil
}

// HashFile returns the hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
