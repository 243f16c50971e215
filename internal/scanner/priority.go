package scanner

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Base priorities by category. Config files rank highest because they
// shape how everything else is read; tests rank lowest.
const (
	basePriorityConfig = 85
	basePrioritySource = 65
	basePriorityDocs   = 40
	basePriorityOther  = 30
	basePriorityTest   = 20
)

// Priority adjustments. Bonuses are additive and the final score is
// clamped to [0, 100].
const (
	bonusEntryPoint = 15
	bonusAPIPath    = 25

	penaltyTiny  = 20
	penaltyLarge = 15

	tinyFileBytes  = 100
	largeFileBytes = 50 * 1024
)

// Bytes-per-token ratios per category. Code tokenizes denser than prose.
const (
	bytesPerTokenCode = 3.5
	bytesPerTokenDocs = 4.0
	bytesPerTokenOther = 4.5
)

// entryStems are filename stems that mark a file as an entry point.
var entryStems = map[string]bool{
	"main":     true,
	"index":    true,
	"app":      true,
	"server":   true,
	"cli":      true,
	"__main__": true,
}

// manifestFilenames are project manifests that define the build.
var manifestFilenames = map[string]bool{
	"package.json":       true,
	"go.mod":             true,
	"go.work":            true,
	"cargo.toml":         true,
	"pyproject.toml":     true,
	"setup.py":           true,
	"requirements.txt":   true,
	"gemfile":            true,
	"composer.json":      true,
	"pom.xml":            true,
	"build.gradle":       true,
	"build.gradle.kts":   true,
	"dockerfile":         true,
	"docker-compose.yml": true,
	"docker-compose.yaml": true,
	"makefile":           true,
}

// apiPathSegments mark interface-layer code when they appear as a whole
// directory component.
var apiPathSegments = map[string]bool{
	"api": true, "apis": true,
	"route": true, "routes": true,
	"controller": true, "controllers": true,
	"service": true, "services": true,
}

// BasePriority returns the starting priority for a category.
func BasePriority(cat Category) int {
	switch cat {
	case CategoryConfig:
		return basePriorityConfig
	case CategorySource:
		return basePrioritySource
	case CategoryDocs:
		return basePriorityDocs
	case CategoryTest:
		return basePriorityTest
	default:
		return basePriorityOther
	}
}

// IsEntryPoint reports whether the filename marks an entry point or a
// project manifest.
func IsEntryPoint(relPath string) bool {
	base := strings.ToLower(path.Base(filepath.ToSlash(relPath)))
	if manifestFilenames[base] {
		return true
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	return entryStems[stem]
}

// HasAPIPathSegment reports whether any directory component of the path
// marks interface-layer code. The bonus applies once no matter how many
// components match.
func HasAPIPathSegment(relPath string) bool {
	dir := strings.ToLower(path.Dir(filepath.ToSlash(relPath)))
	for _, seg := range strings.Split(dir, "/") {
		if apiPathSegments[seg] {
			return true
		}
	}
	return false
}

// Score computes the processing priority for a file: category base, plus
// entry-point and interface-layer bonuses, minus size penalties, clamped
// to [0, 100].
func Score(relPath string, size int64, cat Category) int {
	p := BasePriority(cat)

	if IsEntryPoint(relPath) {
		p += bonusEntryPoint
	}
	if HasAPIPathSegment(relPath) {
		p += bonusAPIPath
	}

	if size < tinyFileBytes {
		p -= penaltyTiny
	} else if size > largeFileBytes {
		p -= penaltyLarge
	}

	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}

// EstimateTokens approximates how many tokens processing the file will
// cost, from its size and category.
func EstimateTokens(size int64, cat Category) int {
	if size <= 0 {
		return 0
	}
	ratio := bytesPerTokenCode
	switch cat {
	case CategoryDocs:
		ratio = bytesPerTokenDocs
	case CategoryOther:
		ratio = bytesPerTokenOther
	}
	return int(float64(size) / ratio)
}

// NewQueueItem builds a fully scored queue item for a discovered file.
func NewQueueItem(relPath, absPath string, size int64, modTime time.Time) *QueueItem {
	cat := Classify(relPath)
	return &QueueItem{
		Path:            filepath.ToSlash(relPath),
		AbsPath:         absPath,
		Size:            size,
		ModTime:         modTime,
		Category:        cat,
		Language:        DetectLanguage(relPath),
		Priority:        Score(relPath, size, cat),
		EstimatedTokens: EstimateTokens(size, cat),
	}
}

// SortByPriority orders items by descending priority. The sort is
// stable, so equal priorities keep their discovery order.
func SortByPriority(items []*QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})
}
