package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalmcp/crystalmcp/internal/results"
	"github.com/crystalmcp/crystalmcp/internal/scanner"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

func writeSource(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// makeItems stats the given relative paths and builds queue items the way
// a scan would, in the given order.
func makeItems(t *testing.T, root string, rels ...string) []*scanner.QueueItem {
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

func newTestDetector(t *testing.T, root string) (*Detector, *results.Store) {
	t.Helper()
	store := results.NewStore(root)
	return NewDetector(root, store, 2), store
}

func TestFirstRunReportsEverythingAdded(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a\n")
	writeSource(t, root, "b/c.go", "package b\n")

	d, _ := newTestDetector(t, root)
	res, err := d.DetectChanges(context.Background(), makeItems(t, root, "a.go", "b/c.go"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Added)
	assert.Zero(t, res.Modified)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 2, res.Tracked)
	require.Len(t, res.Changes, 2)
	for _, c := range res.Changes {
		assert.Equal(t, ChangeAdded, c.Type)
		assert.NotEmpty(t, c.NewHash)
		assert.Empty(t, c.OldHash)
	}

	assert.FileExists(t, d.ManifestPath())
}

func TestUnchangedRescanReportsNothing(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a\n")

	d, _ := newTestDetector(t, root)
	items := makeItems(t, root, "a.go")

	_, err := d.DetectChanges(context.Background(), items)
	require.NoError(t, err)

	res, err := d.DetectChanges(context.Background(), items)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Equal(t, 1, res.Tracked)
}

func TestModifiedFileRecordsBothHashes(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a // v1\n")

	d, _ := newTestDetector(t, root)
	first, err := d.DetectChanges(context.Background(), makeItems(t, root, "a.go"))
	require.NoError(t, err)
	oldHash := first.Changes[0].NewHash

	writeSource(t, root, "a.go", "package a // v2\n")
	res, err := d.DetectChanges(context.Background(), makeItems(t, root, "a.go"))
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	c := res.Changes[0]
	assert.Equal(t, ChangeModified, c.Type)
	assert.Equal(t, oldHash, c.OldHash)
	assert.NotEqual(t, c.OldHash, c.NewHash)
	assert.Equal(t, 1, res.Modified)
}

func TestDeletedReportedOnlyWithPriorResult(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "kept.go", "package kept\n")
	writeSource(t, root, "analyzed.go", "package analyzed\n")
	writeSource(t, root, "never.go", "package never\n")

	d, store := newTestDetector(t, root)
	require.NoError(t, store.Save("analyzed.go", []byte("doc"), results.Meta{}))

	_, err := d.DetectChanges(context.Background(),
		makeItems(t, root, "kept.go", "analyzed.go", "never.go"))
	require.NoError(t, err)

	// Both files disappear from the scan; only the analyzed one is a
	// reportable deletion.
	res, err := d.DetectChanges(context.Background(), makeItems(t, root, "kept.go"))
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeDeleted, res.Changes[0].Type)
	assert.Equal(t, "analyzed.go", res.Changes[0].RelPath)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Tracked)
}

func TestDeletionSeesResultsSavedSinceLastPass(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "late.go", "package late\n")

	d, store := newTestDetector(t, root)
	_, err := d.DetectChanges(context.Background(), makeItems(t, root, "late.go"))
	require.NoError(t, err)

	// The result lands after the pass recorded the file, then the source
	// is deleted. The usual worker flow.
	require.NoError(t, store.Save("late.go", []byte("doc"), results.Meta{}))
	require.NoError(t, os.Remove(filepath.Join(root, "late.go")))

	res, err := d.DetectChanges(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, 1, res.Deleted)
	assert.Equal(t, "late.go", res.Changes[0].RelPath)
}

func TestPreviewChangesLeavesManifestUntouched(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a\n")
	writeSource(t, root, "b.go", "package b\n")

	d, _ := newTestDetector(t, root)
	items := makeItems(t, root, "a.go", "b.go")

	res, err := d.PreviewChanges(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.NoFileExists(t, d.ManifestPath())

	// A second preview sees the same diff because nothing was recorded.
	res, err = d.PreviewChanges(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
}

func TestPreviewChangesAgainstRecordedManifest(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a\n")

	d, _ := newTestDetector(t, root)
	_, err := d.DetectChanges(context.Background(), makeItems(t, root, "a.go"))
	require.NoError(t, err)

	writeSource(t, root, "a.go", "package a // edited\n")
	res, err := d.PreviewChanges(context.Background(), makeItems(t, root, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Modified)
	assert.Zero(t, res.Added)
}

func TestManifestRefreshesAnalysisFlagsWithoutChanges(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a\n")

	d, store := newTestDetector(t, root)
	items := makeItems(t, root, "a.go")

	_, err := d.DetectChanges(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Coverage().WithResults)

	// A result appears between passes; the rescan reports no content
	// change but the manifest flag must still flip.
	require.NoError(t, store.Save("a.go", []byte("doc"), results.Meta{}))
	res, err := d.DetectChanges(context.Background(), items)
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Equal(t, 1, d.Coverage().WithResults)
}

func TestCorruptManifestStartsFresh(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a\n")

	d, _ := newTestDetector(t, root)
	items := makeItems(t, root, "a.go")

	_, err := d.DetectChanges(context.Background(), items)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(d.ManifestPath(), []byte("{not json"), 0o644))

	res, err := d.DetectChanges(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
}

func TestVanishedItemSkippedDuringHashing(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a\n")
	writeSource(t, root, "gone.go", "package gone\n")

	items := makeItems(t, root, "a.go", "gone.go")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))

	d, _ := newTestDetector(t, root)
	res, err := d.DetectChanges(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Tracked)
}

func TestManifestPathUnderStateDir(t *testing.T) {
	root := t.TempDir()
	d, _ := newTestDetector(t, root)
	assert.Equal(t, filepath.Join(root, state.DirName, ManifestFile), d.ManifestPath())
}

func TestHashFile(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "x.txt", "hello\n")

	h1, err := HashFile(filepath.Join(root, "x.txt"))
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, err := HashFile(filepath.Join(root, "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	_, err = HashFile(filepath.Join(root, "missing.txt"))
	require.Error(t, err)
}

func TestNeedingAnalysis(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "done.go", "package done\n")
	writeSource(t, root, "todo.go", "package todo\n")

	d, store := newTestDetector(t, root)
	require.NoError(t, store.Save("done.go", []byte("doc"), results.Meta{}))

	_, err := d.DetectChanges(context.Background(), makeItems(t, root, "done.go", "todo.go"))
	require.NoError(t, err)

	needing := d.NeedingAnalysis()
	require.Len(t, needing, 1)
	assert.Equal(t, "todo.go", needing[0].RelPath)
}

func TestOutdated(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "fresh.go", "package fresh\n")
	writeSource(t, root, "stale.go", "package stale\n")
	writeSource(t, root, "removed.go", "package removed\n")

	d, store := newTestDetector(t, root)
	for _, rel := range []string{"fresh.go", "stale.go", "removed.go"} {
		require.NoError(t, store.Save(rel, []byte("doc"), results.Meta{}))
	}

	_, err := d.DetectChanges(context.Background(),
		makeItems(t, root, "fresh.go", "stale.go", "removed.go"))
	require.NoError(t, err)

	// stale.go's source moves ahead of its result; removed.go vanishes.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "stale.go"), future, future))
	require.NoError(t, os.Remove(filepath.Join(root, "removed.go")))

	outdated := d.Outdated()
	require.Len(t, outdated, 2)
	assert.Equal(t, "removed.go", outdated[0].RelPath)
	assert.Equal(t, "stale.go", outdated[1].RelPath)
}

func TestCoverage(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "a.go", "package a\n")
	writeSource(t, root, "b.go", "package b\n")

	d, store := newTestDetector(t, root)

	// Never ran: empty manifest, zero coverage.
	cov := d.Coverage()
	assert.Zero(t, cov.TrackedFiles)
	assert.Zero(t, cov.Percentage)

	require.NoError(t, store.Save("a.go", []byte("doc"), results.Meta{}))
	_, err := d.DetectChanges(context.Background(), makeItems(t, root, "a.go", "b.go"))
	require.NoError(t, err)

	cov = d.Coverage()
	assert.Equal(t, 2, cov.TrackedFiles)
	assert.Equal(t, 1, cov.WithResults)
	assert.InDelta(t, 50.0, cov.Percentage, 0.001)
}

func TestCleanup(t *testing.T) {
	root := t.TempDir()
	d, store := newTestDetector(t, root)

	require.NoError(t, store.Save("a.go", []byte("doc"), results.Meta{}))
	require.NoError(t, store.Save("b.go", []byte("doc"), results.Meta{}))

	removed := d.Cleanup([]string{"a.go", "b.go", "never-existed.go"})
	assert.Equal(t, 2, removed)
	assert.False(t, store.Has("a.go"))
	assert.False(t, store.Has("b.go"))

	// Second pass has nothing left to remove.
	assert.Zero(t, d.Cleanup([]string{"a.go", "b.go"}))
}
