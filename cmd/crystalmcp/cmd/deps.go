package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/crystalmcp/crystalmcp/internal/config"
	"github.com/crystalmcp/crystalmcp/internal/logging"
	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/pipeline"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/results"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/state"
	"github.com/crystalmcp/crystalmcp/internal/telemetry"
	"github.com/crystalmcp/crystalmcp/internal/ui"
)

// repoDeps bundles the per-repository collaborators most commands need.
type repoDeps struct {
	root     string
	cfg      *config.Config
	scanner  *scanner.Scanner
	store    *results.Store
	detector *manifest.Detector
	queue    *queue.Manager
	recorder *telemetry.Recorder
}

// resolveRoot finds the repository root for a path argument, falling
// back to the path itself when no project markers exist above it.
func resolveRoot(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		return absPath, nil
	}
	return root, nil
}

// ensureDir verifies that path exists and is a directory.
func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	return nil
}

// buildDeps assembles the scanner, result store, change detector, and
// queue manager for one repository. The telemetry recorder is wired into
// the queue so completions feed the stats and ETA seeding.
func buildDeps(root string, cfg *config.Config) (*repoDeps, error) {
	scn, err := scanner.New(cfg.Performance.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	store := results.NewStore(root)
	detector := manifest.NewDetector(root, store, cfg.Performance.HashWorkers)

	recorder, err := telemetry.NewRecorder(telemetry.Options{
		Root:       root,
		Enabled:    cfg.Telemetry.Enabled,
		MaxEntries: cfg.Telemetry.MaxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry recorder: %w", err)
	}

	q, err := queue.NewManager(queue.Options{
		Root:                  root,
		Store:                 store,
		DefaultTimeoutSeconds: cfg.Queue.ClaimTimeout,
		RecoveryWindow:        cfg.RecoveryWindowDuration(),
		Telemetry:             recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue manager: %w", err)
	}

	return &repoDeps{
		root:     root,
		cfg:      cfg,
		scanner:  scn,
		store:    store,
		detector: detector,
		queue:    q,
		recorder: recorder,
	}, nil
}

// loadRepo resolves the repository root for path and assembles its
// dependencies from the merged configuration.
func loadRepo(path string) (*repoDeps, error) {
	root, err := resolveRoot(path)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return buildDeps(root, cfg)
}

// scanOptionsFrom maps the repo configuration onto scanner options.
func scanOptionsFrom(root string, cfg *config.Config) *scanner.ScanOptions {
	return &scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  cfg.Paths.Include,
		ExcludePatterns:  cfg.Paths.Exclude,
		IgnoreFile:       cfg.Scanner.IgnoreFile,
		RespectGitignore: cfg.RespectGitignore(),
		MaxFileSize:      cfg.Scanner.MaxFileSize,
		MaxFiles:         cfg.Scanner.MaxFiles,
		Workers:          cfg.Performance.HashWorkers,
	}
}

// pipelineConfig maps the repo configuration onto refresh pass inputs.
func pipelineConfig(root string, cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		Root:             root,
		IncludePatterns:  cfg.Paths.Include,
		ExcludePatterns:  cfg.Paths.Exclude,
		IgnoreFile:       cfg.Scanner.IgnoreFile,
		RespectGitignore: cfg.RespectGitignore(),
		MaxFileSize:      cfg.Scanner.MaxFileSize,
		MaxFiles:         cfg.Scanner.MaxFiles,
		Workers:          cfg.Performance.HashWorkers,
	}
}

// refresherFor builds a refresh pipeline over the shared dependencies
// with the given progress renderer.
func (d *repoDeps) refresherFor(renderer ui.Renderer) (*pipeline.Refresher, error) {
	return pipeline.NewRefresher(pipeline.Dependencies{
		Scanner:  d.scanner,
		Detector: d.detector,
		Queue:    d.queue,
		Renderer: renderer,
	}, pipelineConfig(d.root, d.cfg))
}

// quietRefresh runs one refresh pass with no terminal output. Commands
// that hand out or complete work run it first, so the session always
// reflects the current tree.
func (d *repoDeps) quietRefresh(ctx context.Context) (*pipeline.Summary, error) {
	r, err := d.refresherFor(ui.NewPlainRenderer(ui.NewConfig(io.Discard)))
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

// setupCommandLogging routes slog output to the repository log file so
// the terminal stays clean for rendered output. Skipped under --debug,
// which already installed its own logger. An unopenable log file is not
// fatal; events stay on the default handler.
func (d *repoDeps) setupCommandLogging() func() {
	if debugMode {
		return func() {}
	}

	cfg := logging.RepoConfig(state.Dir(d.root), d.cfg.Server.LogLevel)
	cfg.WriteToStderr = false

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		slog.Debug("command logging unavailable", slog.String("error", err.Error()))
		return func() {}
	}

	slog.SetDefault(logger)
	return cleanup
}
