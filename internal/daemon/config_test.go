package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)

	assert.Equal(t, root, cfg.Root)
	assert.Greater(t, cfg.Timeout, time.Duration(0))
	assert.Greater(t, cfg.ShutdownGracePeriod, time.Duration(0))
	assert.Greater(t, cfg.MaintenanceInterval, time.Duration(0))
	assert.Equal(t, 5, cfg.LogMaxFiles)
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfig_PathsInStateDir(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)

	stateDir := filepath.Join(root, ".crystalmcp")
	assert.True(t, strings.HasPrefix(cfg.SocketPath, stateDir),
		"SocketPath should live in the repository state directory")
	assert.True(t, strings.HasPrefix(cfg.PIDPath, stateDir),
		"PIDPath should live in the repository state directory")
	assert.True(t, strings.HasPrefix(cfg.LogPath, stateDir),
		"LogPath should live in the repository state directory")
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig(t.TempDir())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid default config", func(*Config) {}, ""},
		{"empty root", func(c *Config) { c.Root = "" }, "root"},
		{"empty socket path", func(c *Config) { c.SocketPath = "" }, "socket"},
		{"empty pid path", func(c *Config) { c.PIDPath = "" }, "PID"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"negative grace period", func(c *Config) { c.ShutdownGracePeriod = -time.Second }, "grace"},
		{"zero maintenance interval", func(c *Config) { c.MaintenanceInterval = 0 }, "maintenance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_EnsureDir(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)

	require.NoError(t, cfg.EnsureDir())

	info, err := os.Stat(filepath.Dir(cfg.SocketPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConfig_EnsureDir_SeparatePIDDir(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)
	cfg.PIDPath = filepath.Join(root, "run", "daemon.pid")

	require.NoError(t, cfg.EnsureDir())

	for _, dir := range []string{filepath.Dir(cfg.SocketPath), filepath.Dir(cfg.PIDPath)} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir(), "expected directory at %s", dir)
	}
}
