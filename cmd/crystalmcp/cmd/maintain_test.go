package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintainCmd_HasJSONFlag(t *testing.T) {
	cmd := newMaintainCmd()

	flag := cmd.Flags().Lookup("json")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestMaintainCmd_EmptyRepo(t *testing.T) {
	tmpDir := t.TempDir()

	var stdout bytes.Buffer
	cmd := newMaintainCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.NoError(t, err)

	output := stdout.String()
	assert.Contains(t, output, "Maintenance complete")
	assert.Contains(t, output, "Claims swept")
	assert.Contains(t, output, "Results pruned")
	assert.Contains(t, output, "Logs removed")
}

func TestMaintainCmd_JSONOutput(t *testing.T) {
	tmpDir := t.TempDir()

	var stdout bytes.Buffer
	cmd := newMaintainCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{tmpDir, "--json"})

	err := cmd.Execute()
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))

	assert.Contains(t, report, "claims_swept")
	assert.Contains(t, report, "results_pruned")
	assert.Contains(t, report, "logs_removed")
	assert.Contains(t, report, "duration_ms")
}

func TestMaintainCmd_NonexistentPath(t *testing.T) {
	cmd := newMaintainCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/path/that/does/not/exist"})

	err := cmd.Execute()
	assert.Error(t, err)
}
