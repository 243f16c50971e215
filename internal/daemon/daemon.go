package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/pipeline"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/results"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/watcher"
)

// Dependencies are the pipeline components the daemon drives.
type Dependencies struct {
	Scanner   *scanner.Scanner
	Detector  *manifest.Detector
	Queue     *queue.Manager
	Store     *results.Store
	Refresher *pipeline.Refresher
}

// Daemon is the long-running watch service for one repository. It owns
// the file watcher, the coordinator that turns change batches into
// refresh passes, the RPC server, and the maintenance timer.
type Daemon struct {
	cfg  Config
	deps Dependencies

	pidfile     *PIDFile
	server      *Server
	watcher     *watcher.Watcher
	coordinator *pipeline.Coordinator
	maintainer  *Maintainer

	started time.Time
	stop    context.CancelFunc

	refreshCount atomic.Int64

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewDaemon creates a daemon. All dependencies are required; they are
// the same components the CLI refresh path uses, so daemon passes and
// manual passes stay consistent.
func NewDaemon(cfg Config, deps Dependencies) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch {
	case deps.Scanner == nil:
		return nil, errors.New("daemon requires a scanner")
	case deps.Detector == nil:
		return nil, errors.New("daemon requires a change detector")
	case deps.Queue == nil:
		return nil, errors.New("daemon requires a queue manager")
	case deps.Store == nil:
		return nil, errors.New("daemon requires a results store")
	case deps.Refresher == nil:
		return nil, errors.New("daemon requires a refresher")
	}

	w, err := watcher.New(watcher.Options{DebounceWindow: cfg.DebounceWindow})
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	d := &Daemon{
		cfg:     cfg,
		deps:    deps,
		pidfile: NewPIDFile(cfg.PIDPath),
		server:  NewServer(cfg.SocketPath, cfg.Timeout),
		watcher: w,
		maintainer: &Maintainer{
			Root:        cfg.Root,
			Queue:       deps.Queue,
			Store:       deps.Store,
			Detector:    deps.Detector,
			LogPath:     cfg.LogPath,
			LogMaxFiles: cfg.LogMaxFiles,
		},
	}

	coordinator, err := pipeline.NewCoordinator(pipeline.CoordinatorConfig{
		Root:      cfg.Root,
		Refresher: deps.Refresher,
		Scanner:   deps.Scanner,
		OnRefresh: d.onRefresh,
	})
	if err != nil {
		return nil, err
	}
	d.coordinator = coordinator
	d.server.SetHandler(d)

	return d, nil
}

// Start runs the daemon until ctx is cancelled or a stop request
// arrives over the socket. It acquires the single-instance lock,
// starts the watcher, runs one catch-up refresh, and then serves.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.stop = cancel

	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}

	if err := d.pidfile.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := d.pidfile.Release(); err != nil {
			slog.Warn("daemon_pidfile_release_failed", slog.String("error", err.Error()))
		}
	}()

	d.started = time.Now()

	if err := d.watcher.Start(ctx, d.cfg.Root); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer d.watcher.Stop()

	// Catch-up pass so the queue reflects changes made while the daemon
	// was down. A failure here is not fatal; the watcher and the
	// refresh RPC still work.
	if _, err := d.coordinator.Refresh(ctx); err != nil {
		slog.Warn("daemon_initial_refresh_failed", slog.String("error", err.Error()))
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		d.coordinator.HandleEvents(ctx, d.watcher.Events())
	}()
	go func() {
		defer wg.Done()
		d.drainWatchErrors(ctx)
	}()
	go func() {
		defer wg.Done()
		d.maintenanceLoop(ctx)
	}()

	slog.Info("daemon_started",
		slog.String("root", d.cfg.Root),
		slog.Int("pid", os.Getpid()))

	err := d.server.ListenAndServe(ctx)
	cancel()

	// Bounded wait for the event loop and maintenance to wind down.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownGracePeriod):
		slog.Warn("daemon_shutdown_grace_exceeded")
	}

	slog.Info("daemon_stopped", slog.String("root", d.cfg.Root))
	return err
}

// HandleRefresh implements RequestHandler. The pass goes through the
// coordinator so it is serialized against watcher-triggered passes.
func (d *Daemon) HandleRefresh(ctx context.Context) (RefreshResult, error) {
	summary, err := d.coordinator.Refresh(ctx)
	if err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{
		SessionID:  summary.SessionID,
		Scanned:    summary.Scanned,
		Added:      summary.Added,
		Modified:   summary.Modified,
		Deleted:    summary.Deleted,
		Queued:     summary.Queued,
		Cleaned:    summary.Cleaned,
		Recovered:  summary.Recovered,
		DurationMs: summary.Duration.Milliseconds(),
	}, nil
}

// HandleStatus implements RequestHandler.
func (d *Daemon) HandleStatus() StatusResult {
	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(d.started).Round(time.Second).String(),
		Root:           d.cfg.Root,
		RefreshCount:   d.refreshCount.Load(),
		DroppedBatches: d.watcher.DroppedBatches(),
	}

	d.mu.Lock()
	if !d.lastRefresh.IsZero() {
		status.LastRefresh = d.lastRefresh.Format(time.RFC3339)
	}
	d.mu.Unlock()

	// Queue progress is best-effort; before the first refresh the
	// manager may not be initialized yet.
	if progress, err := d.deps.Queue.Progress(); err == nil {
		status.SessionID = progress.SessionID
		status.Queued = progress.Remaining
		status.Processed = progress.Processed
		status.Total = progress.Total
	}

	return status
}

// RequestStop implements RequestHandler. The cancel propagates through
// the serving context; the acknowledging response goes out before the
// listener closes.
func (d *Daemon) RequestStop() {
	slog.Info("daemon_stop_requested")
	if d.stop != nil {
		d.stop()
	}
}

// onRefresh observes every completed pass, watcher-triggered and
// protocol-triggered alike.
func (d *Daemon) onRefresh(pipeline.Summary) {
	d.refreshCount.Add(1)
	d.mu.Lock()
	d.lastRefresh = time.Now()
	d.mu.Unlock()
}

// drainWatchErrors logs watcher errors so the channel never backs up.
func (d *Daemon) drainWatchErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			slog.Warn("daemon_watch_error", slog.String("error", err.Error()))
		}
	}
}

// maintenanceLoop runs housekeeping on a fixed cadence.
func (d *Daemon) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.maintainer.Run()
		}
	}
}
