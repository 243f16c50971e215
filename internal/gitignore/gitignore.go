package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Matcher holds compiled ignore patterns and provides thread-safe matching.
type Matcher struct {
	rules []rule
	mu    sync.RWMutex
}

// rule is a single compiled ignore pattern.
type rule struct {
	pattern  string         // original pattern text
	regex    *regexp.Regexp // compiled regex
	negation bool           // starts with !
	dirOnly  bool           // ends with /
	anchored bool           // contains / or starts with /
	base     string         // base directory (for nested ignore files)
}

// New creates a new empty Matcher.
func New() *Matcher {
	return &Matcher{
		rules: make([]rule, 0),
	}
}

// AddPattern adds an ignore pattern to the matcher.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a pattern that only applies under the given
// base directory, as with a nested .gitignore.
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	r, ok := compileRule(pattern, base)
	if !ok {
		return
	}

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile reads patterns from an ignore file.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPatternWithBase(scanner.Text(), base)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read ignore file: %w", err)
	}

	return nil
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match checks if a path matches any ignore pattern.
// Returns true if the path should be ignored. Later rules win, so a
// trailing negation can re-include a previously matched path.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if r.matches(path, isDir) {
			ignored = !r.negation
		}
	}

	return ignored
}

// compileRule parses one pattern line. Returns ok=false for blank lines
// and comments.
func compileRule(pattern, base string) (rule, bool) {
	// "\ " at the end preserves the space, so detect it before trimming.
	hasEscapedTrailingSpace := strings.HasSuffix(pattern, `\ `)

	pattern = strings.TrimSpace(pattern)

	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return rule{}, false
	}

	r := rule{
		pattern: pattern,
		base:    base,
	}

	// Escaped leading # or ! are literals.
	if strings.HasPrefix(pattern, `\#`) {
		pattern = strings.TrimPrefix(pattern, `\`)
		r.pattern = pattern
	}
	if strings.HasPrefix(pattern, `\!`) {
		pattern = strings.TrimPrefix(pattern, `\`)
		r.pattern = pattern
	} else if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = strings.TrimPrefix(pattern, "!")
	}

	if hasEscapedTrailingSpace {
		// TrimSpace turned "file\ " into "file\"; restore the literal space.
		if strings.HasSuffix(pattern, `\`) {
			pattern = strings.TrimSuffix(pattern, `\`) + " "
		}
	}

	// Trailing / restricts the pattern to directories.
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	// Leading / anchors to the base.
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}

	// An internal slash also anchors: "doc/frotz" means "/doc/frotz",
	// not "**/doc/frotz".
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + patternToRegex(pattern) + "$")
	return r, true
}

// matches checks if a path matches this rule.
// Directory-only patterns (ending with /) also match files inside the
// directory: for pattern "temp/", path "temp/file.go" matches.
func (r rule) matches(path string, isDir bool) bool {
	// Rules from nested ignore files only apply under their base.
	if r.base != "" {
		if !strings.HasPrefix(path, r.base+"/") && path != r.base {
			return false
		}
		if path == r.base {
			path = filepath.Base(path)
		} else {
			path = strings.TrimPrefix(path, r.base+"/")
		}
	}

	parts := strings.Split(path, "/")
	basename := parts[len(parts)-1]

	if r.anchored {
		// Anchored pattern must match from the start of the path.
		if r.regex.MatchString(path) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		// An anchored dir pattern still covers files inside the matched
		// directory.
		if r.dirOnly {
			for i := range parts[:len(parts)-1] {
				checkPath := strings.Join(parts[:i+1], "/")
				if r.regex.MatchString(checkPath) {
					return true
				}
			}
		}
		return false
	}

	// Unanchored dir-only pattern: "temp/" matches a temp dir anywhere
	// and everything inside it.
	if r.dirOnly {
		for i, part := range parts {
			if r.regex.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	// Unanchored file pattern: try the basename first.
	if r.regex.MatchString(basename) {
		return true
	}

	// Then the full path (covers ** patterns).
	if r.regex.MatchString(path) {
		return true
	}

	// Then each component, so "name" matches anything under a dir "name".
	for _, part := range parts {
		if r.regex.MatchString(part) {
			return true
		}
	}

	return false
}

// patternToRegex converts an ignore pattern to a regex string.
func patternToRegex(pattern string) string {
	var result strings.Builder

	i := 0
	for i < len(pattern) {
		c := pattern[i]

		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// **/ matches any number of leading directories
					result.WriteString("(?:.*/)?")
					i += 3
					continue
				} else if i == 0 || (i > 0 && pattern[i-1] == '/') {
					// trailing ** or /**/ matches anything
					result.WriteString(".*")
					i += 2
					continue
				}
			}
			// single * never crosses a slash
			result.WriteString("[^/]*")
			i++

		case '?':
			result.WriteString("[^/]")
			i++

		case '[':
			// character class passes through as-is when closed
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				result.WriteString(pattern[i : j+1])
				i = j + 1
			} else {
				result.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		case '\\':
			if i+1 < len(pattern) {
				result.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				result.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			result.WriteString(regexp.QuoteMeta(string(c)))
			i++

		default:
			result.WriteString(string(c))
			i++
		}
	}

	return result.String()
}

// ParsePatterns extracts patterns from ignore-file content.
// Returns non-empty, non-comment lines. Used for comparing ignore file
// versions without being fooled by comment or whitespace edits.
func ParsePatterns(content string) []string {
	var patterns []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") && !strings.HasPrefix(line, `\#`) {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// DiffPatterns computes added and removed patterns between old and new
// ignore-file content. The watch daemon uses this to skip rescans when an
// ignore file edit did not change the effective pattern set.
func DiffPatterns(oldContent, newContent string) (added, removed []string) {
	oldPatterns := ParsePatterns(oldContent)
	newPatterns := ParsePatterns(newContent)

	oldSet := make(map[string]bool, len(oldPatterns))
	for _, p := range oldPatterns {
		oldSet[p] = true
	}

	newSet := make(map[string]bool, len(newPatterns))
	for _, p := range newPatterns {
		newSet[p] = true
	}

	for _, p := range newPatterns {
		if !oldSet[p] {
			added = append(added, p)
		}
	}

	for _, p := range oldPatterns {
		if !newSet[p] {
			removed = append(removed, p)
		}
	}

	return added, removed
}
