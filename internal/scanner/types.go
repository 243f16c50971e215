// Package scanner discovers processable files in a repository and turns
// them into prioritized queue items. It honors exclusion patterns, the
// repo-local ignore file, and .gitignore rules, and it skips binaries,
// oversized files, and sensitive files outright.
package scanner

import (
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Category is the coarse kind of a discovered file. It drives base
// priority and the bytes-per-token ratio used for estimates.
type Category string

const (
	// CategoryConfig represents configuration and manifest files.
	CategoryConfig Category = "config"
	// CategorySource represents source code files.
	CategorySource Category = "source"
	// CategoryTest represents test files.
	CategoryTest Category = "test"
	// CategoryDocs represents documentation files.
	CategoryDocs Category = "docs"
	// CategoryOther represents everything else worth queueing.
	CategoryOther Category = "other"
)

// Categories lists all categories in priority order, highest first.
// Useful for stable iteration when reporting per-category progress.
var Categories = []Category{
	CategoryConfig,
	CategorySource,
	CategoryDocs,
	CategoryOther,
	CategoryTest,
}

// QueueItem is one unit of processing work: a file plus the metadata the
// queue needs to order and account for it.
type QueueItem struct {
	// Path is relative to the repository root, slash-separated.
	Path string `json:"path"`
	// AbsPath is the absolute path on disk.
	AbsPath string `json:"abs_path"`
	// Size in bytes at discovery time.
	Size int64 `json:"size"`
	// ModTime at discovery time.
	ModTime time.Time `json:"mod_time"`
	// Category classifies the file (config, source, test, docs, other).
	Category Category `json:"category"`
	// Language is the detected language, empty when unknown.
	Language string `json:"language,omitempty"`
	// Priority is the computed processing priority, 0-100.
	Priority int `json:"priority"`
	// EstimatedTokens approximates the token cost of processing the file.
	EstimatedTokens int `json:"estimated_tokens"`
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the repository root to scan.
	RootDir string

	// IncludePatterns restricts results to matching paths (empty = all).
	IncludePatterns []string

	// ExcludePatterns specifies additional patterns to exclude, on top
	// of the built-in defaults.
	ExcludePatterns []string

	// IgnoreFile is the name of the repo-local ignore file, resolved
	// against RootDir. Empty means DefaultIgnoreFile.
	IgnoreFile string

	// RespectGitignore additionally honors .gitignore files, including
	// nested ones.
	RespectGitignore bool

	// MaxFileSize is the per-file ceiling in bytes (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// MaxFiles caps how many items a scan may emit (0 = unlimited).
	MaxFiles int

	// FollowSymlinks enables following symbolic links (default: false).
	FollowSymlinks bool

	// Workers sizes internal buffering (0 = NumCPU).
	Workers int
}

// ScanResult is returned from the scanner channel.
type ScanResult struct {
	Item *QueueItem
	Err  error
}

// DefaultMaxFileSize is the default per-file ceiling (1 MiB). Larger
// files are skipped during scanning.
const DefaultMaxFileSize = 1 << 20

// DefaultIgnoreFile is the default name of the repo-local ignore file.
const DefaultIgnoreFile = ".crystalignore"

// sourceExts are extensions classified as source code.
var sourceExts = map[string]bool{
	".go": true, ".js": true, ".jsx": true, ".mjs": true, ".ts": true,
	".tsx": true, ".py": true, ".pyw": true, ".pyi": true, ".rb": true,
	".rake": true, ".rs": true, ".java": true, ".kt": true, ".kts": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cc": true,
	".cxx": true, ".cs": true, ".swift": true, ".php": true, ".scala": true,
	".ex": true, ".exs": true, ".erl": true, ".hs": true, ".lua": true,
	".r": true, ".sql": true, ".sh": true, ".bash": true, ".zsh": true,
	".fish": true, ".html": true, ".htm": true, ".css": true, ".scss": true,
	".sass": true, ".less": true, ".vue": true, ".svelte": true,
	".graphql": true, ".gql": true, ".proto": true,
}

// configExts are extensions classified as configuration.
var configExts = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".xml": true, ".conf": true, ".properties": true,
	".env": true,
}

// docsExts are extensions classified as documentation.
var docsExts = map[string]bool{
	".md": true, ".mdx": true, ".markdown": true, ".rst": true,
	".txt": true, ".adoc": true,
}

// configFilenames are well-known config files without a telling extension.
var configFilenames = map[string]bool{
	"dockerfile":  true,
	"makefile":    true,
	"gnumakefile": true,
	"justfile":    true,
	".gitignore":  true,
	".gitattributes": true,
	".editorconfig":  true,
	".crystalignore": true,
}

// testDirSegments mark a path as test territory when they appear as a
// whole directory component.
var testDirSegments = map[string]bool{
	"test": true, "tests": true, "__tests__": true,
	"spec": true, "specs": true, "testdata": true,
}

// languageByExt maps common extensions to language names for reporting.
var languageByExt = map[string]string{
	".go":   "go",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".py":   "python",
	".rb":   "ruby",
	".rs":   "rust",
	".java": "java",
	".kt":   "kotlin",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".swift": "swift",
	".php":  "php",
	".scala": "scala",
	".ex":   "elixir",
	".exs":  "elixir",
	".hs":   "haskell",
	".lua":  "lua",
	".sql":  "sql",
	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",
	".html": "html",
	".css":  "css",
	".scss": "scss",
	".vue":  "vue",
	".svelte": "svelte",
	".proto": "protobuf",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".xml":  "xml",
	".md":   "markdown",
	".mdx":  "markdown",
	".rst":  "rst",
	".txt":  "text",
}

// Classify assigns a category from extension and filename conventions.
// Test conventions win over everything else, so config.test.ts is a test
// file, not a config file.
func Classify(relPath string) Category {
	slashPath := filepath.ToSlash(relPath)
	base := strings.ToLower(path.Base(slashPath))
	ext := path.Ext(base)

	if isTestPath(slashPath, base) {
		return CategoryTest
	}
	if configExts[ext] || configFilenames[base] || strings.Contains(base, ".config.") {
		return CategoryConfig
	}
	if docsExts[ext] {
		return CategoryDocs
	}
	if sourceExts[ext] {
		return CategorySource
	}
	return CategoryOther
}

// isTestPath reports whether the filename or any directory component
// marks the file as a test.
func isTestPath(slashPath, base string) bool {
	stem := strings.TrimSuffix(base, path.Ext(base))
	if strings.HasSuffix(stem, "_test") || strings.HasSuffix(stem, ".test") ||
		strings.HasSuffix(stem, "_spec") || strings.HasSuffix(stem, ".spec") {
		return true
	}

	for _, seg := range strings.Split(strings.ToLower(path.Dir(slashPath)), "/") {
		if testDirSegments[seg] {
			return true
		}
	}
	return false
}

// DetectLanguage detects the language from a file path, for reporting.
func DetectLanguage(relPath string) string {
	base := strings.ToLower(path.Base(filepath.ToSlash(relPath)))
	switch base {
	case "dockerfile":
		return "dockerfile"
	case "makefile", "gnumakefile":
		return "makefile"
	}
	if lang, ok := languageByExt[path.Ext(base)]; ok {
		return lang
	}
	return ""
}
