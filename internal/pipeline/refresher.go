// Package pipeline orchestrates refresh passes: scan the repository,
// detect content changes, seed or recover the work queue, and clean up
// results whose sources are gone. The coordinator in this package drives
// the same flow from file system events for watch mode.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/ui"
	"github.com/crystalmcp/crystalmcp/internal/validation"
)

// progressEvery is how many discovered files pass between scan progress
// updates.
const progressEvery = 100

// Dependencies carries the collaborators a Refresher orchestrates.
// All fields are required.
type Dependencies struct {
	Scanner  *scanner.Scanner
	Detector *manifest.Detector
	Queue    *queue.Manager
	Renderer ui.Renderer
}

// Config carries the scan inputs for refresh passes.
type Config struct {
	// Root is the repository root.
	Root string

	// IncludePatterns restricts the scan to matching paths (empty = all).
	IncludePatterns []string

	// ExcludePatterns are additional exclusions on top of the built-in
	// defaults. They also gate queue recovery: a session persisted under
	// a different exclude set is not resumed.
	ExcludePatterns []string

	// IgnoreFile is the repo-local ignore file name (empty = default).
	IgnoreFile string

	// RespectGitignore additionally honors .gitignore files.
	RespectGitignore bool

	// MaxFileSize is the per-file ceiling in bytes (0 = scanner default).
	MaxFileSize int64

	// MaxFiles caps how many items a scan may queue (0 = unlimited).
	MaxFiles int

	// Workers bounds hashing and scan parallelism (0 = NumCPU).
	Workers int
}

// Summary reports one completed refresh pass.
type Summary struct {
	Scanned   int           `json:"scanned"`
	Changed   int           `json:"changed"`
	Added     int           `json:"added"`
	Modified  int           `json:"modified"`
	Deleted   int           `json:"deleted"`
	Queued    int           `json:"queued"`
	Cleaned   int           `json:"cleaned"`
	Recovered bool          `json:"recovered"`
	SessionID string        `json:"session_id"`
	Duration  time.Duration `json:"duration"`
}

// Refresher runs refresh passes over one repository.
type Refresher struct {
	deps Dependencies
	cfg  Config
}

// NewRefresher creates a refresher. All dependencies are required, and
// include/exclude patterns must parse as doublestar globs.
func NewRefresher(deps Dependencies, cfg Config) (*Refresher, error) {
	switch {
	case deps.Scanner == nil:
		return nil, crystalerrors.ValidationError("refresher requires a scanner", nil)
	case deps.Detector == nil:
		return nil, crystalerrors.ValidationError("refresher requires a change detector", nil)
	case deps.Queue == nil:
		return nil, crystalerrors.ValidationError("refresher requires a queue manager", nil)
	case deps.Renderer == nil:
		return nil, crystalerrors.ValidationError("refresher requires a renderer", nil)
	case cfg.Root == "":
		return nil, crystalerrors.ValidationError("refresher requires a repository root", nil)
	}
	if err := validation.Patterns(cfg.IncludePatterns); err != nil {
		return nil, err
	}
	if err := validation.Patterns(cfg.ExcludePatterns); err != nil {
		return nil, err
	}
	return &Refresher{deps: deps, cfg: cfg}, nil
}

// Run executes one refresh pass: scan, hash and diff, seed the queue,
// clean up stale results. Scan errors on individual files are reported
// as warnings and do not abort the pass.
func (r *Refresher) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	if err := r.deps.Renderer.Start(ctx); err != nil {
		return nil, crystalerrors.InternalError("failed to start progress renderer", err)
	}
	defer r.deps.Renderer.Stop()

	var stages ui.StageTimings
	warnings := 0

	// Scan.
	scanStart := time.Now()
	r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: "walking repository",
	})

	stream, err := r.deps.Scanner.Scan(ctx, r.scanOptions())
	if err != nil {
		return nil, err
	}

	var items []*scanner.QueueItem
	for res := range stream {
		if res.Err != nil {
			warnings++
			r.deps.Renderer.AddError(ui.ErrorEvent{Err: res.Err, IsWarn: true})
			continue
		}
		items = append(items, res.Item)
		if len(items)%progressEvery == 0 {
			r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageScanning,
				Current:     len(items),
				CurrentFile: res.Item.Path,
			})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scanner.SortByPriority(items)
	stages.Scan = time.Since(scanStart)

	// Hash and diff against the stored manifest.
	hashStart := time.Now()
	r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageHashing,
		Total:   len(items),
		Message: "detecting changes",
	})

	det, err := r.deps.Detector.DetectChanges(ctx, items)
	if err != nil {
		return nil, err
	}
	stages.Hash = time.Since(hashStart)
	r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageHashing,
		Current: len(items),
		Total:   len(items),
	})

	// Seed or recover the queue, then drop results for deleted sources.
	queueStart := time.Now()
	r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageQueueing,
		Message: "seeding work queue",
	})

	queued, err := r.deps.Queue.Initialize(items, r.cfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	var deletedPaths []string
	for _, ch := range det.Changes {
		if ch.Type == manifest.ChangeDeleted {
			deletedPaths = append(deletedPaths, ch.RelPath)
		}
	}
	cleaned := r.deps.Detector.Cleanup(deletedPaths)
	stages.Queue = time.Since(queueStart)

	summary := &Summary{
		Scanned:   len(items),
		Changed:   det.Added + det.Modified + det.Deleted,
		Added:     det.Added,
		Modified:  det.Modified,
		Deleted:   det.Deleted,
		Queued:    queued,
		Cleaned:   cleaned,
		Recovered: r.deps.Queue.Recovered(),
		SessionID: r.deps.Queue.SessionID(),
		Duration:  time.Since(start),
	}

	r.deps.Renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageComplete})
	r.deps.Renderer.Complete(ui.CompletionStats{
		Scanned:   summary.Scanned,
		Changed:   summary.Changed,
		Queued:    summary.Queued,
		Cleaned:   summary.Cleaned,
		Recovered: summary.Recovered,
		Duration:  summary.Duration,
		Warnings:  warnings,
		Stages:    stages,
	})

	slog.Info("refresh_complete",
		slog.String("session_id", summary.SessionID),
		slog.Int("scanned", summary.Scanned),
		slog.Int("added", summary.Added),
		slog.Int("modified", summary.Modified),
		slog.Int("deleted", summary.Deleted),
		slog.Int("queued", summary.Queued),
		slog.Int("cleaned", summary.Cleaned),
		slog.Bool("recovered", summary.Recovered),
		slog.Duration("duration", summary.Duration))

	return summary, nil
}

func (r *Refresher) scanOptions() *scanner.ScanOptions {
	return &scanner.ScanOptions{
		RootDir:          r.cfg.Root,
		IncludePatterns:  r.cfg.IncludePatterns,
		ExcludePatterns:  r.cfg.ExcludePatterns,
		IgnoreFile:       r.cfg.IgnoreFile,
		RespectGitignore: r.cfg.RespectGitignore,
		MaxFileSize:      r.cfg.MaxFileSize,
		MaxFiles:         r.cfg.MaxFiles,
		Workers:          r.cfg.Workers,
	}
}
