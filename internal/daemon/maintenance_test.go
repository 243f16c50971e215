package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/results"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
)

// tickingClock is a controllable clock for claim-expiry tests.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *tickingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMaintainer(t *testing.T, root string, clock queue.Clock) (*Maintainer, *queue.Manager, *results.Store) {
	t.Helper()

	store := results.NewStore(root)
	q, err := queue.NewManager(queue.Options{Root: root, Store: store, Clock: clock})
	require.NoError(t, err)

	m := &Maintainer{
		Root:     root,
		Queue:    q,
		Store:    store,
		Detector: manifest.NewDetector(root, store, 2),
	}
	return m, q, store
}

func queueItems(t *testing.T, root string, rels ...string) []*scanner.QueueItem {
	t.Helper()
	items := make([]*scanner.QueueItem, 0, len(rels))
	for _, rel := range rels {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		require.NoError(t, err)
		items = append(items, scanner.NewQueueItem(rel, abs, info.Size(), info.ModTime()))
	}
	return items
}

func TestMaintainer_Run_SweepsExpiredClaims(t *testing.T) {
	root := t.TempDir()
	clock := newTickingClock()
	m, q, _ := newTestMaintainer(t, root, clock)

	writeRepoSource(t, root, "a.go", "package a\n")
	_, err := q.Initialize(queueItems(t, root, "a.go"), nil)
	require.NoError(t, err)

	_, ok, err := q.NextItem()
	require.NoError(t, err)
	require.True(t, ok)

	report := m.Run()
	assert.Equal(t, 0, report.ClaimsSwept, "live lease stays")

	clock.Advance(q.Timeout() + time.Second)

	report = m.Run()
	assert.Equal(t, 1, report.ClaimsSwept)
}

func TestMaintainer_Run_PrunesOrphanedResults(t *testing.T) {
	root := t.TempDir()
	m, _, store := newTestMaintainer(t, root, nil)

	writeRepoSource(t, root, "kept.go", "package a\n")
	require.NoError(t, store.Save("kept.go", []byte("# analysis"), results.Meta{}))
	require.NoError(t, store.Save("gone.go", []byte("# analysis"), results.Meta{}))

	report := m.Run()

	assert.Equal(t, 1, report.ResultsPruned)
	assert.True(t, store.Has("kept.go"), "result with a live source survives")
	assert.False(t, store.Has("gone.go"), "orphaned result is removed")
}

func TestMaintainer_Run_PrunesRotatedLogs(t *testing.T) {
	root := t.TempDir()
	m, _, _ := newTestMaintainer(t, root, nil)

	logDir := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	logPath := filepath.Join(logDir, "crystalmcp.log")
	for _, name := range []string{
		"crystalmcp.log",
		"crystalmcp.log.1",
		"crystalmcp.log.2",
		"crystalmcp.log.3",
		"crystalmcp.log.4",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(logDir, name), []byte("x"), 0o644))
	}

	m.LogPath = logPath
	m.LogMaxFiles = 2

	report := m.Run()
	assert.Equal(t, 2, report.LogsRemoved)

	_, err := os.Stat(logPath + ".2")
	assert.NoError(t, err, "generations within retention survive")
	_, err = os.Stat(logPath + ".3")
	assert.True(t, os.IsNotExist(err), "generations beyond retention go")
}

func TestMaintainer_Run_NoLogPathSkipsPrune(t *testing.T) {
	root := t.TempDir()
	m, _, _ := newTestMaintainer(t, root, nil)

	report := m.Run()
	assert.Equal(t, 0, report.LogsRemoved)
}

func TestMaintainer_Run_EmptyStateIsClean(t *testing.T) {
	root := t.TempDir()
	m, _, _ := newTestMaintainer(t, root, nil)

	report := m.Run()

	assert.Equal(t, 0, report.ClaimsSwept)
	assert.Equal(t, 0, report.ResultsPruned)
	assert.GreaterOrEqual(t, report.DurationMs, int64(0))
}
