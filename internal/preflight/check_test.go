package preflight

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalmcp/crystalmcp/internal/state"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{
			name:     "required pass is not critical",
			result:   CheckResult{Status: StatusPass, Required: true},
			expected: false,
		},
		{
			name:     "required fail is critical",
			result:   CheckResult{Status: StatusFail, Required: true},
			expected: true,
		},
		{
			name:     "optional fail is not critical",
			result:   CheckResult{Status: StatusFail, Required: false},
			expected: false,
		},
		{
			name:     "required warn is not critical",
			result:   CheckResult{Status: StatusWarn, Required: true},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_NewWithOptions(t *testing.T) {
	// Given: custom options
	buf := &bytes.Buffer{}
	checker := New(
		WithVerbose(true),
		WithOutput(buf),
	)

	// Then: options are applied
	assert.True(t, checker.verbose)
	assert.Equal(t, buf, checker.output)
}

func TestChecker_HasCriticalFailures(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected bool
	}{
		{
			name:     "no results",
			results:  nil,
			expected: false,
		},
		{
			name: "all pass",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusPass, Required: false},
			},
			expected: false,
		},
		{
			name: "optional failure only",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusFail, Required: false},
			},
			expected: false,
		},
		{
			name: "required failure",
			results: []CheckResult{
				{Status: StatusFail, Required: true},
				{Status: StatusPass, Required: false},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New()

	tests := []struct {
		name     string
		results  []CheckResult
		expected string
	}{
		{
			name: "all pass",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
			},
			expected: "ready",
		},
		{
			name: "warnings only",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusWarn, Required: false},
			},
			expected: "ready_with_warnings",
		},
		{
			name: "optional failure reads as warning",
			results: []CheckResult{
				{Status: StatusFail, Required: false},
			},
			expected: "ready_with_warnings",
		},
		{
			name: "critical failure",
			results: []CheckResult{
				{Status: StatusFail, Required: true},
				{Status: StatusWarn, Required: false},
			},
			expected: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.SummaryStatus(tt.results))
		})
	}
}

func TestCheckStateDir(t *testing.T) {
	t.Run("writable repository passes", func(t *testing.T) {
		root := t.TempDir()

		result := New().CheckStateDir(root)

		assert.Equal(t, StatusPass, result.Status)
		assert.True(t, result.Required)
		assert.Contains(t, result.Message, "writable")
	})

	t.Run("existing state dir is the probe target", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, state.EnsureDir(state.Dir(root)))

		result := New().CheckStateDir(root)

		assert.Equal(t, StatusPass, result.Status)
		assert.Contains(t, result.Message, state.Dir(root))
	})

	t.Run("missing repository fails", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "gone")

		result := New().CheckStateDir(root)

		assert.Equal(t, StatusFail, result.Status)
		assert.True(t, result.IsCritical())
	})

	t.Run("probe file is cleaned up", func(t *testing.T) {
		root := t.TempDir()

		New().CheckStateDir(root)

		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestCheckDiskSpace(t *testing.T) {
	result := New().CheckDiskSpace(t.TempDir())

	// Warn-only check: it can never be critical.
	assert.Equal(t, "disk_space", result.Name)
	assert.False(t, result.Required)
	assert.NotEqual(t, StatusFail, result.Status)
	assert.NotEmpty(t, result.Message)
}

func TestCheckFileDescriptors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755))

	result := New().CheckFileDescriptors(root)

	assert.Equal(t, "file_descriptors", result.Name)
	assert.False(t, result.Required)
	assert.NotEqual(t, StatusFail, result.Status)
	assert.NotEmpty(t, result.Message)
}

func TestCountDirsSkipsHiddenAndDependencyTrees(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"src", "src/inner", "node_modules/dep", ".git/objects", "vendor/lib"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}

	// Root, src, and src/inner count; the rest are pruned.
	assert.Equal(t, 3, countDirs(root))
}

func TestChecker_RunAll(t *testing.T) {
	root := t.TempDir()
	checker := New()

	results := checker.RunAll(context.Background(), root)

	require.Len(t, results, 4)
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"state_dir", "disk_space", "file_descriptors", "first_run"}, names)
	assert.False(t, checker.HasCriticalFailures(results))
}

func TestChecker_PrintResults(t *testing.T) {
	buf := &bytes.Buffer{}
	checker := New(WithVerbose(true), WithOutput(buf))

	checker.PrintResults([]CheckResult{
		{Name: "state_dir", Status: StatusPass, Message: "ok", Required: true},
		{Name: "disk_space", Status: StatusWarn, Message: "low", Details: "free some space", Required: false},
	})

	out := buf.String()
	assert.Contains(t, out, "CrystalMCP System Check")
	assert.Contains(t, out, "[PASS] state_dir: ok")
	assert.Contains(t, out, "[WARN] disk_space: low")
	assert.Contains(t, out, "free some space")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")
	assert.Contains(t, out, "1 warning(s):")
}

func TestChecker_PrintResultsCriticalFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	checker := New(WithOutput(buf))

	checker.PrintResults([]CheckResult{
		{Name: "state_dir", Status: StatusFail, Message: "cannot write", Required: true},
	})

	out := buf.String()
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):")
	assert.Contains(t, out, "state_dir: cannot write")
}
