// Package queue owns the durable processing queue for one repository:
// session snapshots, time-boxed claims shared across worker processes,
// and progress accounting. One Manager instance serves one repository;
// nothing here is process-global.
package queue

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/state"
	"github.com/crystalmcp/crystalmcp/internal/telemetry"
)

const (
	// TimeoutFile persists the claim timeout in seconds. Created with
	// the default when absent; never overwritten once present.
	TimeoutFile = "crystallization_timeout.txt"

	// DefaultTimeoutSeconds is the claim timeout used when no persisted
	// value exists.
	DefaultTimeoutSeconds = 900

	// DefaultRecoveryWindow bounds how old a snapshot's last activity
	// may be and still be recovered.
	DefaultRecoveryWindow = 24 * time.Hour
)

// ResultStore is the slice of the result-storage collaborator the queue
// needs: result modification times for freshness checks.
type ResultStore interface {
	ModTime(relPath string) (time.Time, bool)
}

// Options configures a Manager.
type Options struct {
	// Root is the repository the queue serves.
	Root string

	// Store reports stored-result freshness (required).
	Store ResultStore

	// Clock supplies time; nil selects the system clock.
	Clock Clock

	// DefaultTimeoutSeconds seeds the timeout file on first run. Zero
	// or negative selects DefaultTimeoutSeconds.
	DefaultTimeoutSeconds int

	// RecoveryWindow overrides the snapshot freshness window. Zero
	// selects DefaultRecoveryWindow.
	RecoveryWindow time.Duration

	// Telemetry receives one record per completed item and supplies
	// the historical average that seeds the session ETA. Optional.
	Telemetry *telemetry.Recorder
}

// Manager coordinates one repository's processing session. All public
// methods are safe for concurrent use within the process; cross-process
// claim safety comes from the claim store's file lock.
type Manager struct {
	mu             sync.Mutex
	root           string
	snapshotPath   string
	clock          Clock
	store          ResultStore
	claims         *claimStore
	timeout        time.Duration
	recoveryWindow time.Duration
	telemetry      *telemetry.Recorder

	initialized     bool
	recovered       bool
	sessionID       string
	startedAt       time.Time
	lastActivity    time.Time
	excludePatterns []string
	totalFiles      int
	pending         []*scanner.QueueItem
	processed       map[string]struct{}
	current         string

	durTotalSecs float64
	durSamples   int
}

// NewManager creates a queue manager for one repository. The claim
// timeout is read here, once: it is not re-read mid-session.
func NewManager(opts Options) (*Manager, error) {
	if opts.Root == "" {
		return nil, crystalerrors.New(crystalerrors.ErrCodeInvalidInput,
			"repository root is required", nil)
	}
	if opts.Store == nil {
		return nil, crystalerrors.New(crystalerrors.ErrCodeInvalidInput,
			"result store is required", nil)
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	window := opts.RecoveryWindow
	if window <= 0 {
		window = DefaultRecoveryWindow
	}

	stateDir := state.Dir(opts.Root)
	if err := state.EnsureDir(stateDir); err != nil {
		return nil, err
	}

	return &Manager{
		root:           opts.Root,
		snapshotPath:   filepath.Join(stateDir, SnapshotFile),
		clock:          clock,
		store:          opts.Store,
		claims:         newClaimStore(stateDir),
		timeout:        readClaimTimeout(stateDir, opts.DefaultTimeoutSeconds),
		recoveryWindow: window,
		telemetry:      opts.Telemetry,
	}, nil
}

// readClaimTimeout resolves the claim timeout from the state directory.
// A missing file is created with the default; once the file exists it is
// authoritative and never rewritten. Corrupt or non-positive values fall
// back to the default, leaving the file untouched.
func readClaimTimeout(stateDir string, defaultSecs int) time.Duration {
	if defaultSecs <= 0 {
		defaultSecs = DefaultTimeoutSeconds
	}
	fallback := time.Duration(defaultSecs) * time.Second

	path := filepath.Join(stateDir, TimeoutFile)
	created, err := state.EnsureFile(path, strconv.Itoa(defaultSecs)+"\n")
	if err != nil {
		slog.Warn("timeout_file_unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return fallback
	}
	if created {
		return fallback
	}

	raw, err := state.ReadTrimmed(path)
	if err != nil {
		slog.Warn("timeout_file_unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return fallback
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		slog.Warn("timeout_value_invalid_using_default",
			slog.String("value", raw),
			slog.Int("default_seconds", defaultSecs))
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// Timeout returns the claim timeout in effect for this session.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// SessionID returns the active session identifier, empty before
// Initialize.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Recovered reports whether the current session was restored from a
// previous snapshot rather than seeded fresh.
func (m *Manager) Recovered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recovered
}

// Initialize seeds the queue for a session, attempting recovery of the
// previous snapshot first. Recovery is accepted only when the snapshot's
// last activity falls within the recovery window and its exclusion
// patterns equal the requested ones as a set; otherwise the queue seeds
// fresh from items. A recovered session keeps its identity and processed
// set but still merges in newly discovered work, so a refresh during an
// active session picks up files that appeared after the seed. Either
// way, items whose stored result is already at least as new as the
// source are dropped. A session starting with no duration samples
// primes its ETA average from telemetry history when a recorder is
// wired. Returns the queued count.
func (m *Manager) Initialize(items []*scanner.QueueItem, excludePatterns []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if snap, ok := m.tryRecover(excludePatterns, now); ok {
		m.restoreFrom(snap, items, now)
	} else {
		m.seedFresh(items, excludePatterns, now)
	}

	if m.durSamples == 0 {
		m.seedAverageFromHistory()
	}

	m.initialized = true
	m.persistLocked()
	return len(m.pending), nil
}

// etaSeedMaxSamples caps the weight of seeded history so live
// completions take over the running average quickly.
const etaSeedMaxSamples = 10

// seedAverageFromHistory primes the running per-item average from
// recorded telemetry. Sessions that already carry samples keep them.
func (m *Manager) seedAverageFromHistory() {
	if m.telemetry == nil {
		return
	}
	avg, n := m.telemetry.HistoricalAverage()
	if n == 0 || avg <= 0 {
		return
	}
	if n > etaSeedMaxSamples {
		n = etaSeedMaxSamples
	}
	m.durTotalSecs = avg * float64(n)
	m.durSamples = n
	slog.Debug("eta_seeded_from_history",
		slog.Float64("avg_seconds", avg),
		slog.Int("samples", n))
}

// tryRecover loads and vets the previous snapshot. Every rejection path
// logs its reason and degrades to a fresh seed, never an error.
func (m *Manager) tryRecover(excludePatterns []string, now time.Time) (*Snapshot, bool) {
	var snap Snapshot
	if err := state.LoadJSON(m.snapshotPath, &snap); err != nil {
		if state.IsNotExist(err) {
			slog.Debug("no_previous_session", slog.String("root", m.root))
		} else {
			slog.Warn("session_snapshot_unreadable_starting_fresh",
				slog.String("path", m.snapshotPath),
				slog.String("error", err.Error()))
		}
		return nil, false
	}

	if snap.Root != m.root {
		slog.Info("session_root_mismatch_starting_fresh",
			slog.String("snapshot_root", snap.Root),
			slog.String("root", m.root))
		return nil, false
	}

	age := now.Sub(snap.LastActivity)
	if age < 0 || age > m.recoveryWindow {
		slog.Info("session_stale_starting_fresh",
			slog.Duration("age", age),
			slog.Duration("window", m.recoveryWindow))
		return nil, false
	}

	if !samePatternSet(snap.ExcludePatterns, excludePatterns) {
		slog.Info("session_excludes_changed_starting_fresh",
			slog.String("session_id", snap.SessionID))
		return nil, false
	}

	return &snap, true
}

// restoreFrom adopts a recovered snapshot, re-checking each restored
// pending item for freshness: a result produced since the snapshot was
// written means the item no longer needs processing. Scanned items not
// already pending and not processed this session merge in, so work that
// appeared after the original seed is not lost. Processed paths never
// re-enter the session even if their source changed since; the next
// session picks those up through the usual freshness check.
func (m *Manager) restoreFrom(snap *Snapshot, items []*scanner.QueueItem, now time.Time) {
	m.processed = make(map[string]struct{}, len(snap.Processed))
	for _, p := range snap.Processed {
		m.processed[p] = struct{}{}
	}

	var kept []*scanner.QueueItem
	seen := make(map[string]struct{}, len(snap.Pending))
	dropped := 0
	for _, item := range snap.Pending {
		if m.resultFresh(item) {
			dropped++
			continue
		}
		kept = append(kept, item)
		seen[item.Path] = struct{}{}
	}

	merged := 0
	for _, item := range items {
		if _, ok := seen[item.Path]; ok {
			continue
		}
		if _, ok := m.processed[item.Path]; ok {
			continue
		}
		if m.resultFresh(item) {
			continue
		}
		kept = append(kept, item)
		seen[item.Path] = struct{}{}
		merged++
	}
	if merged > 0 {
		scanner.SortByPriority(kept)
	}

	m.sessionID = snap.SessionID
	m.startedAt = snap.StartedAt
	m.lastActivity = now
	m.excludePatterns = append([]string(nil), snap.ExcludePatterns...)
	m.pending = kept
	m.totalFiles = len(m.processed) + len(kept)
	m.current = ""
	m.recovered = true
	m.durTotalSecs = snap.DurationTotalSeconds
	m.durSamples = snap.DurationSamples

	slog.Info("session_recovered",
		slog.String("session_id", m.sessionID),
		slog.Int("processed", len(m.processed)),
		slog.Int("pending", len(kept)),
		slog.Int("merged_new", merged),
		slog.Int("dropped_fresh", dropped))
}

// seedFresh starts a new session from the scanned items, skipping any
// whose stored result is already newer than the source.
func (m *Manager) seedFresh(items []*scanner.QueueItem, excludePatterns []string, now time.Time) {
	var pending []*scanner.QueueItem
	skipped := 0
	for _, item := range items {
		if m.resultFresh(item) {
			skipped++
			continue
		}
		pending = append(pending, item)
	}

	m.sessionID = newSessionID(m.root, now)
	m.startedAt = now
	m.lastActivity = now
	m.excludePatterns = append([]string(nil), excludePatterns...)
	m.processed = map[string]struct{}{}
	m.pending = pending
	m.totalFiles = len(pending)
	m.current = ""
	m.recovered = false
	m.durTotalSecs = 0
	m.durSamples = 0

	slog.Info("session_seeded",
		slog.String("session_id", m.sessionID),
		slog.Int("queued", len(pending)),
		slog.Int("skipped_fresh", skipped))
}

// resultFresh reports whether the stored result for an item is at least
// as new as its source on disk. A vanished source also reports fresh so
// the item drops out of the queue.
func (m *Manager) resultFresh(item *scanner.QueueItem) bool {
	resultMT, ok := m.store.ModTime(item.Path)
	if !ok {
		return false
	}
	info, err := os.Stat(item.AbsPath)
	if err != nil {
		return true
	}
	return !resultMT.Before(info.ModTime())
}

// NextItem hands out exactly one claimable item, or ok=false once
// nothing claimable remains. Expired claims are swept first; an item
// whose lease is held elsewhere stays queued for a later call, so a
// crashed worker's item becomes available again after the timeout.
func (m *Manager) NextItem() (*scanner.QueueItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, false, crystalerrors.NotInitializedError("queue manager")
	}

	now := m.clock.Now()
	m.lastActivity = now

	if _, err := m.claims.SweepExpired(now, m.timeout); err != nil {
		slog.Warn("claim_sweep_failed", slog.String("error", err.Error()))
	}

	for i := 0; i < len(m.pending); {
		item := m.pending[i]

		if _, done := m.processed[item.Path]; done {
			// Processed elsewhere; drop it lazily.
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			continue
		}

		claimed, err := m.claims.TryClaim(item.Path, now, m.timeout)
		if err != nil {
			slog.Warn("claim_failed",
				slog.String("path", item.Path),
				slog.String("error", err.Error()))
			i++
			continue
		}
		if !claimed {
			i++
			continue
		}

		m.current = item.Path
		m.persistLocked()
		return item, true, nil
	}

	m.current = ""
	m.persistLocked()
	return nil, false, nil
}

// MarkProcessed records completion of one item: the path joins the
// processed set, its lease is released, and the duration tracker and
// telemetry recorder gain a sample. Marking an already-processed or
// never-claimed path is a logged no-op, not an error.
func (m *Manager) MarkProcessed(relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return crystalerrors.NotInitializedError("queue manager")
	}

	now := m.clock.Now()
	m.lastActivity = now
	relPath = filepath.ToSlash(relPath)

	var completed *scanner.QueueItem
	for i, item := range m.pending {
		if item.Path == relPath {
			completed = item
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}

	if _, dup := m.processed[relPath]; dup {
		slog.Debug("mark_processed_duplicate", slog.String("path", relPath))
	}
	m.processed[relPath] = struct{}{}

	claimedAtMs, existed, err := m.claims.Release(relPath)
	switch {
	case err != nil:
		slog.Warn("claim_release_failed",
			slog.String("path", relPath),
			slog.String("error", err.Error()))
	case !existed:
		slog.Debug("claim_release_noop", slog.String("path", relPath))
	default:
		if secs := float64(now.UnixMilli()-claimedAtMs) / 1000; secs >= 0 {
			m.durTotalSecs += secs
			m.durSamples++
			m.recordCompletion(relPath, completed, secs, now)
		}
	}

	if m.current == relPath {
		m.current = ""
	}

	m.persistLocked()
	return nil
}

// recordCompletion emits one telemetry record for a finished item.
// Best effort: failures are logged, never returned.
func (m *Manager) recordCompletion(relPath string, item *scanner.QueueItem, secs float64, now time.Time) {
	if m.telemetry == nil {
		return
	}

	rec := telemetry.Record{
		Path:        relPath,
		Category:    string(scanner.Classify(relPath)),
		Seconds:     secs,
		SessionID:   m.sessionID,
		CompletedAt: now,
	}
	if item != nil {
		rec.Category = string(item.Category)
		rec.Tokens = item.EstimatedTokens
	}

	if err := m.telemetry.Record(rec); err != nil {
		slog.Warn("telemetry_record_failed",
			slog.String("path", relPath),
			slog.String("error", err.Error()))
	}
}

// SweepExpiredClaims releases every lease past the claim timeout and
// reports how many went. NextItem sweeps on demand; idle maintenance
// calls this so leases from dead workers do not wait for the next
// claim.
func (m *Manager) SweepExpiredClaims() (int, error) {
	return m.claims.SweepExpired(m.clock.Now(), m.timeout)
}

// CategoryProgress is the per-category pending/processed breakdown.
type CategoryProgress struct {
	Pending   int `json:"pending"`
	Processed int `json:"processed"`
}

// Progress is a point-in-time view of the session.
type Progress struct {
	SessionID  string  `json:"session_id"`
	Total      int     `json:"total"`
	Processed  int     `json:"processed"`
	Remaining  int     `json:"remaining"`
	Percentage float64 `json:"percentage"`
	Current    string  `json:"current,omitempty"`

	ByCategory map[string]CategoryProgress `json:"by_category"`

	// AvgSecondsPerItem and ETASeconds derive from the running average
	// over completed items; both are zero until the first completion.
	AvgSecondsPerItem float64 `json:"avg_seconds_per_item"`
	ETASeconds        float64 `json:"eta_seconds"`

	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Progress reports counts, percentage, the in-flight path, per-category
// breakdown, and an ETA from the running average seconds per completed
// item times the remaining count.
func (m *Manager) Progress() (*Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, crystalerrors.NotInitializedError("queue manager")
	}

	p := &Progress{
		SessionID:    m.sessionID,
		Total:        m.totalFiles,
		Processed:    len(m.processed),
		Remaining:    len(m.pending),
		Current:      m.current,
		ByCategory:   map[string]CategoryProgress{},
		StartedAt:    m.startedAt,
		LastActivity: m.lastActivity,
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Processed) / float64(p.Total) * 100
	}

	for _, item := range m.pending {
		cp := p.ByCategory[string(item.Category)]
		cp.Pending++
		p.ByCategory[string(item.Category)] = cp
	}
	for rel := range m.processed {
		cat := string(scanner.Classify(rel))
		cp := p.ByCategory[cat]
		cp.Processed++
		p.ByCategory[cat] = cp
	}

	if m.durSamples > 0 {
		p.AvgSecondsPerItem = m.durTotalSecs / float64(m.durSamples)
		p.ETASeconds = p.AvgSecondsPerItem * float64(p.Remaining)
	}

	return p, nil
}

// ClearSession deletes the persisted snapshot and resets in-memory
// state; the next Initialize starts fresh.
func (m *Manager) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := state.Remove(m.snapshotPath); err != nil {
		return err
	}

	m.initialized = false
	m.recovered = false
	m.sessionID = ""
	m.pending = nil
	m.processed = nil
	m.current = ""
	m.totalFiles = 0
	m.durTotalSecs = 0
	m.durSamples = 0

	slog.Info("session_cleared", slog.String("root", m.root))
	return nil
}

// persistLocked writes the snapshot best-effort: a failure is logged and
// never aborts the in-memory operation. In-memory state stays
// authoritative for the life of the process; durability is
// opportunistic.
func (m *Manager) persistLocked() {
	processed := make([]string, 0, len(m.processed))
	for p := range m.processed {
		processed = append(processed, p)
	}
	sort.Strings(processed)

	snap := &Snapshot{
		SessionID:            m.sessionID,
		Root:                 m.root,
		TotalFiles:           m.totalFiles,
		Processed:            processed,
		Pending:              m.pending,
		StartedAt:            m.startedAt,
		LastActivity:         m.lastActivity,
		ExcludePatterns:      m.excludePatterns,
		DurationTotalSeconds: m.durTotalSecs,
		DurationSamples:      m.durSamples,
	}
	if err := state.SaveJSON(m.snapshotPath, snap); err != nil {
		slog.Warn("queue_persist_failed",
			slog.String("path", m.snapshotPath),
			slog.String("error", err.Error()))
	}
}

// SnapshotPath returns the on-disk location of the session snapshot.
func (m *Manager) SnapshotPath() string {
	return m.snapshotPath
}
