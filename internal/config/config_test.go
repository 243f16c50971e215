package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Default Configuration Tests
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)

	// Scanner defaults
	assert.Equal(t, int64(1<<20), cfg.Scanner.MaxFileSize)
	assert.Equal(t, 100000, cfg.Scanner.MaxFiles)
	assert.Equal(t, ".crystalignore", cfg.Scanner.IgnoreFile)

	// Queue defaults
	assert.Equal(t, 900, cfg.Queue.ClaimTimeout)
	assert.Equal(t, "24h", cfg.Queue.RecoveryWindow)

	// Performance defaults
	assert.Equal(t, runtime.NumCPU(), cfg.Performance.HashWorkers)
	assert.Equal(t, 1000, cfg.Performance.CacheSize)
	assert.Equal(t, "200ms", cfg.Performance.WatchDebounce)

	// Server defaults
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	// Daemon defaults
	assert.Equal(t, "30m", cfg.Daemon.MaintenanceInterval)

	// Telemetry defaults
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 5000, cfg.Telemetry.MaxEntries)

	// Paths defaults
	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/vendor/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.crystalmcp/**")
}

func TestConfig_VersionDefaultsToOne(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Version)
}

func TestNewConfig_StateDirAlwaysExcluded(t *testing.T) {
	// The state directory must never be scanned back into the queue.
	cfg := NewConfig()
	assert.Contains(t, cfg.Paths.Exclude, "**/.crystalmcp/**")
}

// =============================================================================
// Configuration File Loading Tests
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	// Given: a directory with no .crystalmcp.yaml
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: defaults are returned without error
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 900, cfg.Queue.ClaimTimeout)
	assert.Equal(t, int64(1<<20), cfg.Scanner.MaxFileSize)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	// Given: a directory with .crystalmcp.yaml
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configContent := `
version: 1
scanner:
  max_file_size: 2097152
  max_files: 50000
queue:
  claim_timeout: 600
  recovery_window: 12h
performance:
  hash_workers: 4
`
	err := os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: all overrides are applied
	require.NoError(t, err)
	assert.Equal(t, int64(2097152), cfg.Scanner.MaxFileSize)
	assert.Equal(t, 50000, cfg.Scanner.MaxFiles)
	assert.Equal(t, 600, cfg.Queue.ClaimTimeout)
	assert.Equal(t, "12h", cfg.Queue.RecoveryWindow)
	assert.Equal(t, 4, cfg.Performance.HashWorkers)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	// Given: a directory with .crystalmcp.yml (alternative extension)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configContent := `
version: 1
server:
  log_level: debug
`
	err := os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: .yml file is recognized
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	// Given: both .yaml and .yml exist
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	yamlContent := "queue:\n  claim_timeout: 300\n"
	ymlContent := "queue:\n  claim_timeout: 1200\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yaml"), []byte(yamlContent), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yml"), []byte(ymlContent), 0o644))

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: .yaml wins
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Queue.ClaimTimeout)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	// Given: a malformed config file
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yaml"), []byte("scanner: [not a map"), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	_, err = Load(tmpDir)

	// Then: the parse error is surfaced
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_ExcludePatterns_MergeWithDefaults(t *testing.T) {
	// Given: a project config declaring extra excludes
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configContent := `
paths:
  exclude:
    - "**/generated/**"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yaml"), []byte(configContent), 0o644))

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: project excludes extend the defaults instead of replacing them
	require.NoError(t, err)
	assert.Contains(t, cfg.Paths.Exclude, "**/generated/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
}

func TestLoad_UserConfigThenProjectConfig(t *testing.T) {
	// Given: a user config and a project config that disagree
	xdgDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdgDir)
	userDir := filepath.Join(xdgDir, "crystalmcp")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	userContent := "queue:\n  claim_timeout: 600\nserver:\n  log_level: warn\n"
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(userContent), 0o644))

	tmpDir := t.TempDir()
	projectContent := "queue:\n  claim_timeout: 300\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yaml"), []byte(projectContent), 0o644))

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: project wins where both set a value, user fills the rest
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Queue.ClaimTimeout)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
}

// =============================================================================
// Environment Variable Override Tests
// =============================================================================

func TestLoad_EnvOverrides_HighestPrecedence(t *testing.T) {
	// Given: a project config and env vars that disagree
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configContent := "queue:\n  claim_timeout: 300\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yaml"), []byte(configContent), 0o644))

	t.Setenv("CRYSTALMCP_CLAIM_TIMEOUT", "120")
	t.Setenv("CRYSTALMCP_LOG_LEVEL", "error")
	t.Setenv("CRYSTALMCP_TELEMETRY", "false")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env vars win
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Queue.ClaimTimeout)
	assert.Equal(t, "error", cfg.Server.LogLevel)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_EnvOverride_InvalidValueIgnored(t *testing.T) {
	// Given: env vars with values that do not parse
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()

	t.Setenv("CRYSTALMCP_CLAIM_TIMEOUT", "soon")
	t.Setenv("CRYSTALMCP_RECOVERY_WINDOW", "whenever")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: defaults survive
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Queue.ClaimTimeout)
	assert.Equal(t, "24h", cfg.Queue.RecoveryWindow)
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate_RejectsInvalidExcludePattern(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.Exclude = append(cfg.Paths.Exclude, "[unclosed")

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclude pattern")
}

func TestValidate_RejectsNonPositiveClaimTimeout(t *testing.T) {
	cfg := NewConfig()
	cfg.Queue.ClaimTimeout = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim_timeout")
}

func TestValidate_RejectsBadRecoveryWindow(t *testing.T) {
	cfg := NewConfig()
	cfg.Queue.RecoveryWindow = "one day"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovery_window")
}

func TestValidate_RejectsUnknownTransport(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Transport = "carrier-pigeon"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport")
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.LogLevel = "verbose"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidate_RejectsNonPositiveMaxFileSize(t *testing.T) {
	cfg := NewConfig()
	cfg.Scanner.MaxFileSize = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_file_size")
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, NewConfig().Validate())
}

// =============================================================================
// Duration Helper Tests
// =============================================================================

func TestRecoveryWindowDuration_ParsesConfiguredValue(t *testing.T) {
	cfg := NewConfig()
	cfg.Queue.RecoveryWindow = "6h"
	assert.Equal(t, 6*time.Hour, cfg.RecoveryWindowDuration())
}

func TestRecoveryWindowDuration_FallsBackOnGarbage(t *testing.T) {
	cfg := NewConfig()
	cfg.Queue.RecoveryWindow = "not-a-duration"
	assert.Equal(t, 24*time.Hour, cfg.RecoveryWindowDuration())
}

func TestWatchDebounceDuration_ParsesConfiguredValue(t *testing.T) {
	cfg := NewConfig()
	cfg.Performance.WatchDebounce = "1s"
	assert.Equal(t, time.Second, cfg.WatchDebounceDuration())
}

func TestWatchDebounceDuration_FallsBackOnGarbage(t *testing.T) {
	cfg := NewConfig()
	cfg.Performance.WatchDebounce = "quick"
	assert.Equal(t, 200*time.Millisecond, cfg.WatchDebounceDuration())
}

// =============================================================================
// Project Detection Tests
// =============================================================================

func TestDetectProjectType(t *testing.T) {
	tests := []struct {
		name   string
		marker string
		want   ProjectType
	}{
		{"go project", "go.mod", ProjectTypeGo},
		{"node project", "package.json", ProjectTypeNode},
		{"python project", "pyproject.toml", ProjectTypePython},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(tmpDir, tt.marker), []byte("{}"), 0o644))
			assert.Equal(t, tt.want, DetectProjectType(tmpDir))
		})
	}

	t.Run("unknown project", func(t *testing.T) {
		assert.Equal(t, ProjectTypeUnknown, DetectProjectType(t.TempDir()))
	})
}

func TestProjectType_IsKnown(t *testing.T) {
	assert.True(t, ProjectTypeGo.IsKnown())
	assert.False(t, ProjectTypeUnknown.IsKnown())
}

func TestFindProjectRoot_GitMarker(t *testing.T) {
	// Given: nested dirs under a git root
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, ".git"), 0o755))
	nested := filepath.Join(tmpDir, "internal", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	// When: finding the root from the nested dir
	root, err := FindProjectRoot(nested)

	// Then: the git root is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigMarker(t *testing.T) {
	// Given: a .crystalmcp.yaml but no .git
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".crystalmcp.yaml"), []byte("version: 1\n"), 0o644))
	nested := filepath.Join(tmpDir, "src")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	root, err := FindProjectRoot(nested)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarker_ReturnsStartDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestDiscoverSourceDirs(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "src"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "internal"), 0o755))

	found := DiscoverSourceDirs(tmpDir)

	assert.Contains(t, found, "src")
	assert.Contains(t, found, "internal")
	assert.NotContains(t, found, "cmd")
}

func TestDiscoverDocsDirs(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# hi"), 0o644))

	found := DiscoverDocsDirs(tmpDir)

	assert.Contains(t, found, "docs")
	assert.Contains(t, found, "README.md")
}
