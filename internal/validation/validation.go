// Package validation checks user-supplied paths and patterns before
// they reach the scanner, queue, or stores. Both the CLI and the MCP
// tools route their inputs through here so the two surfaces reject the
// same things with the same messages.
package validation

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
)

// IsRelPath reports whether p is a safe repository-relative path:
// non-empty, not absolute, no drive letter, and not escaping the root
// through traversal.
func IsRelPath(p string) bool {
	if p == "" {
		return false
	}

	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}

	// Windows absolute paths.
	if len(p) >= 2 && p[1] == ':' {
		return false
	}

	cleaned := path.Clean(filepath.ToSlash(p))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// CleanRelPath validates a repository-relative path and returns its
// clean slash-separated form.
func CleanRelPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", crystalerrors.ValidationError("path is required", nil)
	}
	if !IsRelPath(p) {
		return "", crystalerrors.ValidationError(
			fmt.Sprintf("invalid path: %s", p), nil)
	}
	return path.Clean(filepath.ToSlash(p)), nil
}

// RepoRelative resolves p against a repository root. Absolute paths
// must point inside the root; relative ones are validated as
// repository-relative. Returns the clean slash-relative form.
func RepoRelative(root, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", crystalerrors.ValidationError("path is required", nil)
	}

	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(root, p)
		if err != nil || !IsRelPath(filepath.ToSlash(rel)) {
			return "", crystalerrors.ValidationError(
				fmt.Sprintf("path is outside the repository: %s", p), err).
				WithDetail("root", root)
		}
		return path.Clean(filepath.ToSlash(rel)), nil
	}

	return CleanRelPath(p)
}

// Patterns verifies every pattern parses as doublestar syntax. The
// scanner treats unparseable patterns as non-matching, so rejecting
// them here is what surfaces the typo to the user.
func Patterns(patterns []string) error {
	for _, pat := range patterns {
		trimmed := strings.TrimSpace(pat)
		if trimmed == "" {
			return crystalerrors.ValidationError("empty pattern", nil)
		}
		if !doublestar.ValidatePattern(trimmed) {
			return crystalerrors.ValidationError(
				fmt.Sprintf("invalid pattern: %s", pat), nil).
				WithSuggestion("patterns use doublestar syntax, e.g. 'vendor/**' or '*.min.js'")
		}
	}
	return nil
}
