package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonCmd_HasSubcommands(t *testing.T) {
	cmd := newDaemonCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.Contains(t, names, "start")
	assert.Contains(t, names, "stop")
	assert.Contains(t, names, "status")
}

func TestDaemonStartCmd_HasForegroundFlag(t *testing.T) {
	cmd := newDaemonStartCmd()

	flag := cmd.Flags().Lookup("foreground")
	require.NotNil(t, flag)
	assert.Equal(t, "f", flag.Shorthand)
	assert.Equal(t, "false", flag.DefValue)
}

func TestDaemonStatusCmd_HasJSONFlag(t *testing.T) {
	cmd := newDaemonStatusCmd()

	flag := cmd.Flags().Lookup("json")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestDaemonStatus_NotRunning(t *testing.T) {
	tmpDir := t.TempDir()

	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldWd) }()

	var stdout bytes.Buffer
	cmd := newDaemonStatusCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)

	output := stdout.String()
	assert.Contains(t, output, "Daemon is not running")
	assert.Contains(t, output, "daemon start")
}

func TestDaemonStatus_NotRunningJSON(t *testing.T) {
	tmpDir := t.TempDir()

	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldWd) }()

	var stdout bytes.Buffer
	cmd := newDaemonStatusCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--json"})

	err := cmd.Execute()
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &status))
	assert.Equal(t, false, status["running"])
}

func TestDaemonStop_NotRunning(t *testing.T) {
	tmpDir := t.TempDir()

	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldWd) }()

	var stdout bytes.Buffer
	cmd := newDaemonStopCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Daemon is not running")
}
