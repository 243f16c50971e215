package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func scanAll(t *testing.T, root string, opts *ScanOptions) []*QueueItem {
	t.Helper()
	if opts == nil {
		opts = &ScanOptions{}
	}
	opts.RootDir = root

	s, err := New(0)
	require.NoError(t, err)
	items, err := s.ScanSorted(context.Background(), opts)
	require.NoError(t, err)
	return items
}

func itemPaths(items []*QueueItem) []string {
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.Path
	}
	return paths
}

func TestScanSortedPriorityOrdering(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.config.json", strings.Repeat("a", 80))
	writeTestFile(t, root, "src/api/controllers/b.ts", strings.Repeat("b", 2000))
	writeTestFile(t, root, "c.test.ts", strings.Repeat("c", 500))

	items := scanAll(t, root, nil)
	require.Len(t, items, 3)

	// Interface-layer source outranks a tiny config file, which outranks
	// a test file.
	assert.Equal(t, "src/api/controllers/b.ts", items[0].Path)
	assert.Equal(t, 90, items[0].Priority)
	assert.Equal(t, CategorySource, items[0].Category)

	assert.Equal(t, "a.config.json", items[1].Path)
	assert.Equal(t, 65, items[1].Priority)
	assert.Equal(t, CategoryConfig, items[1].Category)

	assert.Equal(t, "c.test.ts", items[2].Path)
	assert.Equal(t, 20, items[2].Priority)
	assert.Equal(t, CategoryTest, items[2].Category)

	assert.Equal(t, 571, items[0].EstimatedTokens)
}

func TestScanSortedTiesKeepDiscoveryOrder(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "alpha/one.go", strings.Repeat("x", 500))
	writeTestFile(t, root, "beta/two.go", strings.Repeat("x", 500))
	writeTestFile(t, root, "gamma/three.go", strings.Repeat("x", 500))

	items := scanAll(t, root, nil)
	require.Len(t, items, 3)

	// Same priority for all three; the walk is lexical, so the order is
	// deterministic.
	assert.Equal(t, []string{"alpha/one.go", "beta/two.go", "gamma/three.go"}, itemPaths(items))
}

func TestScanItemMetadata(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/main.go", strings.Repeat("x", 700))

	items := scanAll(t, root, nil)
	require.Len(t, items, 1)

	it := items[0]
	assert.Equal(t, "src/main.go", it.Path)
	assert.Equal(t, filepath.Join(root, "src", "main.go"), it.AbsPath)
	assert.Equal(t, int64(700), it.Size)
	assert.False(t, it.ModTime.IsZero())
	assert.Equal(t, "go", it.Language)
	assert.Equal(t, 80, it.Priority)
}

func TestScanSkipsDefaultExcludedDirs(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/app.go", "package app\n")
	writeTestFile(t, root, "node_modules/pkg/index.js", "module.exports = {}\n")
	writeTestFile(t, root, ".git/config", "[core]\n")
	writeTestFile(t, root, "vendor/dep/dep.go", "package dep\n")
	writeTestFile(t, root, ".crystalmcp/processing-queue.json", "{}\n")

	items := scanAll(t, root, nil)
	assert.Equal(t, []string{"src/app.go"}, itemPaths(items))
}

func TestScanSkipsDefaultExcludedFiles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "app.js", "let x = 1\n")
	writeTestFile(t, root, "app.min.js", "let x=1\n")
	writeTestFile(t, root, "debug.log", "started\n")
	writeTestFile(t, root, "yarn.lock", "lockfile\n")

	items := scanAll(t, root, nil)
	assert.Equal(t, []string{"app.js"}, itemPaths(items))
}

func TestScanSkipsSensitiveFiles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "app.go", "package main\n")
	writeTestFile(t, root, ".env", "SECRET=1\n")
	writeTestFile(t, root, ".env.local", "SECRET=2\n")
	writeTestFile(t, root, "server.pem", "-----BEGIN\n")
	writeTestFile(t, root, "id_rsa", "key material\n")

	items := scanAll(t, root, nil)
	assert.Equal(t, []string{"app.go"}, itemPaths(items))
}

func TestScanCustomExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/app.go", "package app\n")
	writeTestFile(t, root, "src/app.gen.go", "package app\n")
	writeTestFile(t, root, "generated/api/client.go", "package api\n")

	items := scanAll(t, root, &ScanOptions{
		ExcludePatterns: []string{"*.gen.go", "**/generated/**"},
	})
	assert.Equal(t, []string{"src/app.go"}, itemPaths(items))
}

func TestScanIncludePatterns(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/app.go", "package app\n")
	writeTestFile(t, root, "src/app.ts", "const x = 1\n")
	writeTestFile(t, root, "README.md", "# readme\n")

	items := scanAll(t, root, &ScanOptions{
		IncludePatterns: []string{"**/*.go"},
	})
	assert.Equal(t, []string{"src/app.go"}, itemPaths(items))
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "small.go", strings.Repeat("x", 200))
	writeTestFile(t, root, "large.go", strings.Repeat("x", 5000))

	items := scanAll(t, root, &ScanOptions{MaxFileSize: 1024})
	assert.Equal(t, []string{"small.go"}, itemPaths(items))
}

func TestScanSkipsBinaryFiles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "text.go", "package main\n")
	writeTestFile(t, root, "blob.dat", "PK\x03\x04\x00\x00binary")

	items := scanAll(t, root, nil)
	assert.Equal(t, []string{"text.go"}, itemPaths(items))
}

func TestScanHonorsRepoIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, ".crystalignore", "*.md\nskipped/\n")
	writeTestFile(t, root, "app.go", "package main\n")
	writeTestFile(t, root, "README.md", "# readme\n")
	writeTestFile(t, root, "skipped/file.go", "package skipped\n")

	items := scanAll(t, root, nil)
	// The ignore file itself is still scannable config, and both files
	// are tiny enough to take the small-file penalty.
	assert.Equal(t, []string{".crystalignore", "app.go"}, itemPaths(items))
}

func TestScanHonorsGitignoreWhenEnabled(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, ".gitignore", "*.tmp\n")
	writeTestFile(t, root, "app.go", "package main\n")
	writeTestFile(t, root, "scratch.tmp", "scratch\n")

	withGitignore := scanAll(t, root, &ScanOptions{RespectGitignore: true})
	assert.NotContains(t, itemPaths(withGitignore), "scratch.tmp")

	without := scanAll(t, root, &ScanOptions{RespectGitignore: false})
	assert.Contains(t, itemPaths(without), "scratch.tmp")
}

func TestScanHonorsNestedGitignore(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "sub/.gitignore", "local.txt\n")
	writeTestFile(t, root, "sub/local.txt", "ignored here\n")
	writeTestFile(t, root, "local.txt", "kept at root\n")

	items := scanAll(t, root, &ScanOptions{RespectGitignore: true})
	paths := itemPaths(items)
	assert.Contains(t, paths, "local.txt")
	assert.NotContains(t, paths, "sub/local.txt")
}

func TestScanMaxFilesCap(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go"} {
		writeTestFile(t, root, name, "package main\n")
	}

	items := scanAll(t, root, &ScanOptions{MaxFiles: 2})
	assert.Len(t, items, 2)
}

func TestScanSkipsSymlinksByDefault(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "real.go", "package main\n")
	require.NoError(t, os.Symlink(
		filepath.Join(root, "real.go"),
		filepath.Join(root, "link.go"),
	))

	items := scanAll(t, root, nil)
	assert.Equal(t, []string{"real.go"}, itemPaths(items))

	followed := scanAll(t, root, &ScanOptions{FollowSymlinks: true})
	assert.Len(t, followed, 2)
}

func TestScanRootValidation(t *testing.T) {
	s, err := New(0)
	require.NoError(t, err)

	_, err = s.Scan(context.Background(), &ScanOptions{RootDir: "/does/not/exist"})
	require.Error(t, err)
	assert.Equal(t, crystalerrors.ErrCodeFileNotFound, crystalerrors.GetCode(err))

	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = s.Scan(context.Background(), &ScanOptions{RootDir: file})
	require.Error(t, err)
	assert.Equal(t, crystalerrors.ErrCodeInvalidPath, crystalerrors.GetCode(err))

	_, err = s.Scan(context.Background(), nil)
	require.Error(t, err)
}

func TestScanIgnoreCacheInvalidation(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, ".crystalignore", "*.tmp\n")
	writeTestFile(t, root, "app.go", "package main\n")
	writeTestFile(t, root, "note.md", "# note\n")

	s, err := New(0)
	require.NoError(t, err)
	opts := &ScanOptions{RootDir: root}

	items, err := s.ScanSorted(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, itemPaths(items), "note.md")

	// Rules changed on disk, but the cached matcher still applies until
	// the cache is invalidated.
	writeTestFile(t, root, ".crystalignore", "*.tmp\n*.md\n")
	items, err = s.ScanSorted(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, itemPaths(items), "note.md")

	s.InvalidateIgnoreCache()
	items, err = s.ScanSorted(context.Background(), opts)
	require.NoError(t, err)
	assert.NotContains(t, itemPaths(items), "note.md")
}

func TestScanStreamingChannelCloses(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "one.go", "package main\n")
	writeTestFile(t, root, "two.go", "package main\n")

	s, err := New(0)
	require.NoError(t, err)
	results, err := s.Scan(context.Background(), &ScanOptions{RootDir: root})
	require.NoError(t, err)

	count := 0
	for r := range results {
		require.NoError(t, r.Err)
		require.NotNil(t, r.Item)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestScanEmptyRepository(t *testing.T) {
	items := scanAll(t, t.TempDir(), nil)
	assert.Empty(t, items)
}
