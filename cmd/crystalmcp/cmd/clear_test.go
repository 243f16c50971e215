package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalmcp/crystalmcp/internal/manifest"
	"github.com/crystalmcp/crystalmcp/internal/queue"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

func TestClearCmd_DropsSession(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.go"), []byte("package a\n"), 0644))
	refreshDir(t, tmpDir)

	snapshotPath := filepath.Join(state.Dir(tmpDir), queue.SnapshotFile)
	_, err := os.Stat(snapshotPath)
	require.NoError(t, err, "refresh should have written a session snapshot")

	var stdout bytes.Buffer
	cmd := newClearCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{tmpDir})

	err = cmd.Execute()
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "Session cleared")
	assert.Contains(t, stdout.String(), "refresh' to start a new session")

	_, err = os.Stat(snapshotPath)
	assert.True(t, os.IsNotExist(err), "session snapshot should be removed")
}

func TestClearCmd_KeepsManifest(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.go"), []byte("package a\n"), 0644))
	refreshDir(t, tmpDir)

	cmd := newClearCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{tmpDir})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(state.Dir(tmpDir), manifest.ManifestFile))
	assert.NoError(t, err, "manifest survives a session clear")
}

func TestClearCmd_NoSessionIsFine(t *testing.T) {
	tmpDir := t.TempDir()

	var stdout bytes.Buffer
	cmd := newClearCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{tmpDir})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "Session cleared")
}
