package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalmcp/crystalmcp/internal/logging"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

func TestLogsCmd_Flags(t *testing.T) {
	cmd := newLogsCmd()

	followFlag := cmd.Flags().Lookup("follow")
	require.NotNil(t, followFlag)
	assert.Equal(t, "f", followFlag.Shorthand)

	linesFlag := cmd.Flags().Lookup("lines")
	require.NotNil(t, linesFlag)
	assert.Equal(t, "n", linesFlag.Shorthand)
	assert.Equal(t, "50", linesFlag.DefValue)

	for _, name := range []string{"level", "filter", "no-color", "file"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "logs should have --%s flag", name)
	}
}

func TestLogsCmd_NoLogFile(t *testing.T) {
	tmpDir := t.TempDir()
	home := t.TempDir()
	t.Setenv("HOME", home)

	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldWd) }()

	cmd := newLogsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log file found")
}

func TestLogsCmd_ExplicitFileMissing(t *testing.T) {
	cmd := newLogsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", "/nonexistent/crystalmcp.log"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log file not found")
}

func TestLogsCmd_TailsRepoLog(t *testing.T) {
	tmpDir := t.TempDir()

	logPath := logging.RepoLogPath(state.Dir(tmpDir))
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0755))
	lines := `{"time":"2026-01-02T15:04:05Z","level":"INFO","msg":"refresh_started"}
{"time":"2026-01-02T15:04:06Z","level":"WARN","msg":"slow_hash","path":"big.bin"}
`
	require.NoError(t, os.WriteFile(logPath, []byte(lines), 0644))

	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldWd) }()

	cmd := newLogsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-n", "5"})

	err := cmd.Execute()
	assert.NoError(t, err)
}

func TestLogsCmd_InvalidFilter(t *testing.T) {
	tmpDir := t.TempDir()

	logPath := filepath.Join(tmpDir, "crystalmcp.log")
	require.NoError(t, os.WriteFile(logPath, []byte(`{"level":"INFO","msg":"x"}`+"\n"), 0644))

	cmd := newLogsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--file", logPath, "--filter", "["})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
