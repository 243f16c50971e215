package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
	"github.com/crystalmcp/crystalmcp/internal/gitignore"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

// DefaultCacheSize bounds the ignore-matcher cache when the caller does
// not size it.
const DefaultCacheSize = 1000

// defaultExcludeDirs are directory names pruned from every scan.
var defaultExcludeDirs = []string{
	".git", ".svn", ".hg",
	"node_modules", "vendor", "target",
	"dist", "build", "out",
	"__pycache__", ".venv", "venv", ".tox",
	".idea", ".vscode",
	"coverage", ".next", ".nuxt", ".cache",
	state.DirName,
}

// defaultExcludeFiles are file patterns skipped from every scan:
// generated artifacts, lock files, and binary formats not worth opening.
var defaultExcludeFiles = []string{
	"*.min.js", "*.min.css", "*.map",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "*.lock",
	"*.log",
	".DS_Store", "Thumbs.db",
	"*.pyc", "*.pyo", "*.class", "*.o", "*.a",
	"*.exe", "*.dll", "*.so", "*.dylib", "*.wasm",
	"*.zip", "*.tar", "*.gz", "*.bz2", "*.xz", "*.7z", "*.rar",
	"*.jpg", "*.jpeg", "*.png", "*.gif", "*.ico", "*.bmp", "*.webp",
	"*.mp3", "*.mp4", "*.avi", "*.mov", "*.webm",
	"*.pdf", "*.doc", "*.docx", "*.xls", "*.xlsx",
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
}

// sensitiveFilePatterns are never queued, whatever the options say.
var sensitiveFilePatterns = []string{
	".env", ".env.*",
	"*.pem", "*.key", "*.p12", "*.pfx", "*.keystore",
	"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
	"credentials*", "*.credentials",
	"secrets.*", "*.secret",
	".netrc", ".npmrc", ".pypirc",
}

// Scanner walks repository trees and emits prioritized queue items. It
// is safe for concurrent use. Ignore-file matchers are cached across
// scans so watch-driven rescans stay cheap.
type Scanner struct {
	ignoreCache *lru.Cache[string, *gitignore.Matcher]
	cacheMu     sync.Mutex
}

// New creates a Scanner. cacheSize bounds the ignore-matcher cache; zero
// or negative selects DefaultCacheSize.
func New(cacheSize int) (*Scanner, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *gitignore.Matcher](cacheSize)
	if err != nil {
		return nil, crystalerrors.Wrap(crystalerrors.ErrCodeInternal, err)
	}
	return &Scanner{ignoreCache: cache}, nil
}

// Scan walks the tree rooted at opts.RootDir and streams results on the
// returned channel. The channel closes when the walk finishes; walk
// failures arrive as a final ScanResult with Err set. Per-file problems
// (vanished, unreadable) skip the file silently.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil || opts.RootDir == "" {
		return nil, crystalerrors.New(crystalerrors.ErrCodeInvalidInput, "scan root is required", nil)
	}

	absRoot, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return nil, crystalerrors.Wrap(crystalerrors.ErrCodeInvalidPath, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, crystalerrors.New(crystalerrors.ErrCodeFileNotFound, "scan root does not exist: "+absRoot, nil)
		}
		return nil, crystalerrors.Wrap(crystalerrors.ErrCodeFilePerm, err)
	}
	if !info.IsDir() {
		return nil, crystalerrors.New(crystalerrors.ErrCodeInvalidPath, "scan root is not a directory: "+absRoot, nil)
	}

	o := *opts
	o.RootDir = absRoot
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.IgnoreFile == "" {
		o.IgnoreFile = DefaultIgnoreFile
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}

	results := make(chan ScanResult, o.Workers*10)
	go s.walk(ctx, &o, results)
	return results, nil
}

// ScanSorted runs a full scan and returns the items ordered by
// descending priority. The underlying sort is stable, so equal
// priorities keep the order the walk discovered them in.
func (s *Scanner) ScanSorted(ctx context.Context, opts *ScanOptions) ([]*QueueItem, error) {
	results, err := s.Scan(ctx, opts)
	if err != nil {
		return nil, err
	}

	var items []*QueueItem
	for r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		items = append(items, r.Item)
	}

	SortByPriority(items)
	return items, nil
}

func (s *Scanner) walk(ctx context.Context, opts *ScanOptions, results chan<- ScanResult) {
	defer close(results)

	count := 0
	err := filepath.WalkDir(opts.RootDir, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(opts.RootDir, p)
		if relErr != nil || rel == "." {
			return nil
		}
		relSlash := filepath.ToSlash(rel)

		if d.IsDir() {
			if s.shouldExcludeDir(relSlash, opts) {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}

		if s.shouldExcludeFile(relSlash, opts) {
			return nil
		}
		if len(opts.IncludePatterns) > 0 && !matchesAny(opts.IncludePatterns, relSlash) {
			return nil
		}

		info, infoErr := statEntry(p, d)
		if infoErr != nil {
			// Vanished between listing and stat.
			return nil
		}
		if info.Size() > opts.MaxFileSize {
			return nil
		}
		if isBinaryFile(p) {
			return nil
		}

		item := NewQueueItem(relSlash, p, info.Size(), info.ModTime())
		select {
		case results <- ScanResult{Item: item}:
		case <-ctx.Done():
			return ctx.Err()
		}

		count++
		if opts.MaxFiles > 0 && count >= opts.MaxFiles {
			return fs.SkipAll
		}
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		select {
		case results <- ScanResult{Err: err}:
		case <-ctx.Done():
		}
	}
}

// statEntry resolves file info, following the link target when the entry
// is a symlink.
func statEntry(p string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		return os.Stat(p)
	}
	return d.Info()
}

func (s *Scanner) shouldExcludeDir(relSlash string, opts *ScanOptions) bool {
	base := path.Base(relSlash)
	for _, name := range defaultExcludeDirs {
		if base == name {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchDirGlob(pattern, relSlash) {
			return true
		}
	}
	return false
}

func (s *Scanner) shouldExcludeFile(relSlash string, opts *ScanOptions) bool {
	base := path.Base(relSlash)
	for _, pattern := range defaultExcludeFiles {
		if matchGlob(pattern, base) {
			return true
		}
	}
	for _, pattern := range sensitiveFilePatterns {
		if matchGlob(pattern, base) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchGlob(pattern, relSlash) {
			return true
		}
	}
	return s.isIgnored(relSlash, opts)
}

// matchGlob matches a slash-separated relative path against a doublestar
// pattern. Patterns without a slash match the basename, so "*.tmp"
// excludes matching files anywhere in the tree.
func matchGlob(pattern, slashPath string) bool {
	target := slashPath
	if !strings.Contains(pattern, "/") {
		target = path.Base(slashPath)
	}
	ok, err := doublestar.Match(pattern, target)
	return err == nil && ok
}

// matchDirGlob matches a directory path against a pattern, treating a
// trailing /** as matching the directory itself so the walk can prune
// the whole subtree.
func matchDirGlob(pattern, slashPath string) bool {
	if trimmed := strings.TrimSuffix(pattern, "/**"); trimmed != pattern && matchGlob(trimmed, slashPath) {
		return true
	}
	return matchGlob(pattern, slashPath)
}

func matchesAny(patterns []string, slashPath string) bool {
	for _, pattern := range patterns {
		if matchGlob(pattern, slashPath) {
			return true
		}
	}
	return false
}

// isIgnored checks the repo-local ignore file and, when enabled, root
// and nested .gitignore files. Nested matchers scope to their own
// directory.
func (s *Scanner) isIgnored(relSlash string, opts *ScanOptions) bool {
	if m := s.matcherFor(filepath.Join(opts.RootDir, opts.IgnoreFile), ""); m != nil && m.Match(relSlash, false) {
		return true
	}
	if !opts.RespectGitignore {
		return false
	}
	if m := s.matcherFor(filepath.Join(opts.RootDir, ".gitignore"), ""); m != nil && m.Match(relSlash, false) {
		return true
	}

	dir := path.Dir(relSlash)
	if dir == "." {
		return false
	}
	prefix := ""
	for _, part := range strings.Split(dir, "/") {
		if prefix == "" {
			prefix = part
		} else {
			prefix += "/" + part
		}
		nested := filepath.Join(opts.RootDir, filepath.FromSlash(prefix), ".gitignore")
		if m := s.matcherFor(nested, prefix); m != nil && m.Match(relSlash, false) {
			return true
		}
	}
	return false
}

// matcherFor returns a cached matcher for one ignore file, or nil when
// the file does not exist or cannot be read.
func (s *Scanner) matcherFor(ignorePath, base string) *gitignore.Matcher {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if m, ok := s.ignoreCache.Get(ignorePath); ok {
		return m
	}
	if _, err := os.Stat(ignorePath); err != nil {
		return nil
	}

	m := gitignore.New()
	if err := m.AddFromFile(ignorePath, base); err != nil {
		return nil
	}
	s.ignoreCache.Add(ignorePath, m)
	return m
}

// InvalidateIgnoreCache drops all cached ignore matchers. Callers invoke
// it after an ignore file changes on disk.
func (s *Scanner) InvalidateIgnoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.ignoreCache.Purge()
}

// isBinaryFile sniffs the first 512 bytes for a null byte. Files that
// cannot be opened or read report as binary so the walk skips them
// without failing the scan.
func isBinaryFile(absPath string) bool {
	f, err := os.Open(absPath)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
