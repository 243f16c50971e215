package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
	"github.com/crystalmcp/crystalmcp/internal/gitignore"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/watcher"
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Root is the repository root being watched.
	Root string

	// Refresher runs one refresh pass per accepted batch.
	Refresher *Refresher

	// Scanner is the refresher's scanner; its ignore-rule cache is
	// invalidated when ignore files change.
	Scanner *scanner.Scanner

	// OnRefresh, when set, observes each completed refresh summary.
	OnRefresh func(Summary)

	// OnConfigChange, when set, is called after a batch containing a
	// config-file change has been refreshed. The coordinator itself does
	// not reload configuration.
	OnConfigChange func()
}

// Coordinator turns watcher event batches into refresh passes. A batch
// of plain file changes triggers one refresh; an ignore-file change
// triggers one only when its effective pattern set changed, so
// comment-only edits stay cheap. Refresh passes are serialized.
type Coordinator struct {
	cfg CoordinatorConfig

	// ignoreContents caches the last-seen content of each ignore file so
	// edits can be diffed down to effective pattern changes.
	mu             sync.Mutex
	ignoreContents map[string]string

	runMu sync.Mutex
}

// NewCoordinator creates a coordinator. The root ignore files are read
// up front so the first edit after startup diffs against real content
// instead of unconditionally triggering a refresh.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	switch {
	case cfg.Root == "":
		return nil, crystalerrors.ValidationError("coordinator requires a repository root", nil)
	case cfg.Refresher == nil:
		return nil, crystalerrors.ValidationError("coordinator requires a refresher", nil)
	case cfg.Scanner == nil:
		return nil, crystalerrors.ValidationError("coordinator requires a scanner", nil)
	}

	c := &Coordinator{
		cfg:            cfg,
		ignoreContents: make(map[string]string),
	}
	for _, name := range []string{".crystalignore", ".gitignore"} {
		if data, err := os.ReadFile(filepath.Join(cfg.Root, name)); err == nil {
			c.ignoreContents[name] = string(data)
		}
	}
	return c, nil
}

// HandleEvents consumes watcher batches until the channel closes or ctx
// is cancelled. Refresh failures are logged and the loop continues; a
// broken pass must not end watch mode.
func (c *Coordinator) HandleEvents(ctx context.Context, batches <-chan []watcher.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			if err := c.HandleBatch(ctx, batch); err != nil {
				slog.Warn("watch_refresh_failed",
					slog.Int("batch_size", len(batch)),
					slog.String("error", err.Error()))
			}
		}
	}
}

// HandleBatch classifies one event batch and runs a refresh pass when
// the batch warrants it.
func (c *Coordinator) HandleBatch(ctx context.Context, events []watcher.FileEvent) error {
	decision := c.classify(events)
	if !decision.refresh {
		slog.Debug("watch_batch_skipped",
			slog.Int("events", len(events)),
			slog.String("reason", decision.skipReason))
		return nil
	}

	if decision.invalidateIgnores {
		c.cfg.Scanner.InvalidateIgnoreCache()
	}

	summary, err := c.Refresh(ctx)
	if err != nil {
		return err
	}

	slog.Info("watch_refresh",
		slog.Int("events", len(events)),
		slog.Int("changed", summary.Changed),
		slog.Int("queued", summary.Queued))

	if decision.configChanged && c.cfg.OnConfigChange != nil {
		c.cfg.OnConfigChange()
	}
	return nil
}

// Refresh runs one refresh pass, serialized against event-triggered
// passes, and reports the summary to the OnRefresh observer. Callers
// outside the event loop (startup, the daemon protocol) use this so
// their passes go through the same gate.
func (c *Coordinator) Refresh(ctx context.Context) (*Summary, error) {
	c.runMu.Lock()
	summary, err := c.cfg.Refresher.Run(ctx)
	c.runMu.Unlock()
	if err != nil {
		return nil, err
	}
	if c.cfg.OnRefresh != nil {
		c.cfg.OnRefresh(*summary)
	}
	return summary, nil
}

type batchDecision struct {
	refresh           bool
	invalidateIgnores bool
	configChanged     bool
	skipReason        string
}

// classify decides what a batch requires. Directory creations alone do
// not refresh; the files inside arrive as their own events once the new
// directory joins the watch.
func (c *Coordinator) classify(events []watcher.FileEvent) batchDecision {
	var d batchDecision

	for _, ev := range events {
		switch ev.Operation {
		case watcher.OpIgnoreChange:
			if c.ignoreRulesChanged(ev.Path) {
				d.refresh = true
				d.invalidateIgnores = true
			}

		case watcher.OpConfigChange:
			d.refresh = true
			d.configChanged = true

		case watcher.OpCreate:
			if !ev.IsDir {
				d.refresh = true
			}

		case watcher.OpModify, watcher.OpDelete, watcher.OpRename:
			d.refresh = true
		}
	}

	if !d.refresh {
		if len(events) == 0 {
			d.skipReason = "empty_batch"
		} else {
			d.skipReason = "no_effective_change"
		}
	}
	return d
}

// ignoreRulesChanged reports whether the effective pattern set of the
// given ignore file differs from its last-seen content. The cache
// updates either way. An ignore file seen for the first time counts as
// changed; refreshing once too often is safer than missing a rule.
func (c *Coordinator) ignoreRulesChanged(rel string) bool {
	abs := filepath.Join(c.cfg.Root, filepath.FromSlash(rel))
	var content string
	if data, err := os.ReadFile(abs); err == nil {
		content = string(data)
	}

	c.mu.Lock()
	prev, seen := c.ignoreContents[rel]
	c.ignoreContents[rel] = content
	c.mu.Unlock()

	if !seen {
		return true
	}

	added, removed := gitignore.DiffPatterns(prev, content)
	if len(added) == 0 && len(removed) == 0 {
		slog.Debug("ignore_edit_no_effective_change", slog.String("path", rel))
		return false
	}

	slog.Info("ignore_rules_changed",
		slog.String("path", rel),
		slog.Int("added", len(added)),
		slog.Int("removed", len(removed)))
	return true
}
