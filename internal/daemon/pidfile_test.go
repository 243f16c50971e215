package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_Acquire_WritesCurrentPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	pf := NewPIDFile(pidPath)
	require.NoError(t, pf.Acquire())
	defer pf.Release()

	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)

	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Acquire_SecondHolderRejected(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	first := NewPIDFile(pidPath)
	require.NoError(t, first.Acquire())
	defer first.Release()

	// A separate PIDFile opens its own descriptor, so the lock contends
	// even within one process.
	second := NewPIDFile(pidPath)
	err := second.Acquire()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestPIDFile_Acquire_StaleFileDoesNotBlock(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	// A crashed daemon leaves its PID file behind but the kernel has
	// already dropped the lock.
	require.NoError(t, os.WriteFile(pidPath, []byte("4194304"), 0o644))

	pf := NewPIDFile(pidPath)
	require.NoError(t, pf.Acquire())
	defer pf.Release()

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_Release_RemovesFileAndFreesLock(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	first := NewPIDFile(pidPath)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err), "PID file should be removed")

	second := NewPIDFile(pidPath)
	require.NoError(t, second.Acquire())
	defer second.Release()
}

func TestPIDFile_Release_MissingFileTolerated(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	pf := NewPIDFile(pidPath)
	require.NoError(t, pf.Acquire())
	require.NoError(t, os.Remove(pidPath))

	assert.NoError(t, pf.Release())
}

func TestPIDFile_Read(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("12345"), 0o644))

	pf := NewPIDFile(pidPath)
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestPIDFile_Read_NotExists(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nonexistent.pid"))

	_, err := pf.Read()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPIDFileNotFound)
}

func TestPIDFile_Read_InvalidContent(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("not-a-number"), 0o644))

	pf := NewPIDFile(pidPath)
	_, err := pf.Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID")
}

func TestPIDFile_IsRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	pf := NewPIDFile(pidPath)

	assert.False(t, pf.IsRunning(), "no PID file means not running")

	require.NoError(t, pf.Acquire())
	defer pf.Release()
	assert.True(t, pf.IsRunning(), "current process holds the file")
}

func TestPIDFile_IsRunning_DeadProcess(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")
	// Beyond the default pid_max on Linux.
	require.NoError(t, os.WriteFile(pidPath, []byte("4194304"), 0o644))

	pf := NewPIDFile(pidPath)
	assert.False(t, pf.IsRunning())
}

func TestPIDFile_Signal(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "test.pid")

	pf := NewPIDFile(pidPath)
	require.NoError(t, pf.Acquire())
	defer pf.Release()

	// Signal 0 probes the stored PID, which is this process.
	assert.NoError(t, pf.Signal(syscall.Signal(0)))
}

func TestPIDFile_Signal_NoFile(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nonexistent.pid"))

	err := pf.Signal(syscall.SIGTERM)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPIDFileNotFound)
}
