package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config represents the complete crystalmcp configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Scanner     ScannerConfig     `yaml:"scanner" json:"scanner"`
	Queue       QueueConfig       `yaml:"queue" json:"queue"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Daemon      DaemonConfig      `yaml:"daemon" json:"daemon"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
}

// PathsConfig configures which paths to include and exclude.
// Exclude patterns from project config are merged with the built-in
// defaults rather than replacing them.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ScannerConfig configures repository scanning.
type ScannerConfig struct {
	// MaxFileSize is the per-file size ceiling in bytes. Files larger
	// than this are skipped during scanning. Default: 1 MiB.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`

	// MaxFiles caps how many files a single scan may queue.
	MaxFiles int `yaml:"max_files" json:"max_files"`

	// IgnoreFile is the name of the repo-local ignore file, resolved
	// against the project root. Default: ".crystalignore".
	IgnoreFile string `yaml:"ignore_file" json:"ignore_file"`

	// RespectGitignore additionally honors .gitignore files, including
	// nested ones. Default: true.
	RespectGitignore *bool `yaml:"respect_gitignore" json:"respect_gitignore"`
}

// QueueConfig configures queue persistence and claim handling.
type QueueConfig struct {
	// ClaimTimeout is the claim lease length in seconds. It seeds the
	// timeout file on first run; once that file exists, the file wins.
	ClaimTimeout int `yaml:"claim_timeout" json:"claim_timeout"`

	// RecoveryWindow is how recent a persisted session must be to be
	// restored instead of reseeded. Default: "24h".
	RecoveryWindow string `yaml:"recovery_window" json:"recovery_window"`
}

// PerformanceConfig configures performance tuning options.
type PerformanceConfig struct {
	// HashWorkers is the number of concurrent content hashers used
	// during change detection. Default: number of CPUs.
	HashWorkers int `yaml:"hash_workers" json:"hash_workers"`

	// CacheSize is the ignore-matcher cache capacity (entries).
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// WatchDebounce is the quiet period applied to filesystem events
	// before a rescan is triggered. Default: "200ms".
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// DaemonConfig configures the background watch daemon.
type DaemonConfig struct {
	// MaintenanceInterval is how often an idle daemon sweeps expired
	// claims and prunes old telemetry. Default: "30m".
	MaintenanceInterval string `yaml:"maintenance_interval" json:"maintenance_interval"`
}

// TelemetryConfig configures local processing telemetry.
// Telemetry never leaves the repository state directory.
type TelemetryConfig struct {
	// Enabled turns JSONL telemetry recording on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxEntries caps entries per telemetry file before rotation.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.crystalmcp/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Scanner: ScannerConfig{
			MaxFileSize:      1 << 20,
			MaxFiles:         100000,
			IgnoreFile:       ".crystalignore",
			RespectGitignore: boolPtr(true),
		},
		Queue: QueueConfig{
			ClaimTimeout:   900,
			RecoveryWindow: "24h",
		},
		Performance: PerformanceConfig{
			HashWorkers:   runtime.NumCPU(),
			CacheSize:     1000,
			WatchDebounce: "200ms",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Daemon: DaemonConfig{
			MaintenanceInterval: "30m",
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			MaxEntries: 5000,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/crystalmcp/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/crystalmcp/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "crystalmcp", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback - should rarely happen
		return filepath.Join(os.TempDir(), ".config", "crystalmcp", "config.yaml")
	}
	return filepath.Join(home, ".config", "crystalmcp", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/crystalmcp/config.yaml)
//  3. Project config (.crystalmcp.yaml in project root)
//  4. Environment variables (CRYSTALMCP_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: Load user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: Load project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// Step 4: Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .crystalmcp.yaml or .crystalmcp.yml.
func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, ".crystalmcp.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, ".crystalmcp.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// Scanner
	if other.Scanner.MaxFileSize != 0 {
		c.Scanner.MaxFileSize = other.Scanner.MaxFileSize
	}
	if other.Scanner.MaxFiles != 0 {
		c.Scanner.MaxFiles = other.Scanner.MaxFiles
	}
	if other.Scanner.IgnoreFile != "" {
		c.Scanner.IgnoreFile = other.Scanner.IgnoreFile
	}
	if other.Scanner.RespectGitignore != nil {
		c.Scanner.RespectGitignore = other.Scanner.RespectGitignore
	}

	// Queue
	if other.Queue.ClaimTimeout != 0 {
		c.Queue.ClaimTimeout = other.Queue.ClaimTimeout
	}
	if other.Queue.RecoveryWindow != "" {
		c.Queue.RecoveryWindow = other.Queue.RecoveryWindow
	}

	// Performance
	if other.Performance.HashWorkers != 0 {
		c.Performance.HashWorkers = other.Performance.HashWorkers
	}
	if other.Performance.CacheSize != 0 {
		c.Performance.CacheSize = other.Performance.CacheSize
	}
	if other.Performance.WatchDebounce != "" {
		c.Performance.WatchDebounce = other.Performance.WatchDebounce
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Daemon
	if other.Daemon.MaintenanceInterval != "" {
		c.Daemon.MaintenanceInterval = other.Daemon.MaintenanceInterval
	}

	// Telemetry
	// Enabled is boolean - only merge when some telemetry config was set
	if other.Telemetry.MaxEntries != 0 || other.Telemetry.Enabled {
		c.Telemetry.Enabled = other.Telemetry.Enabled
	}
	if other.Telemetry.MaxEntries != 0 {
		c.Telemetry.MaxEntries = other.Telemetry.MaxEntries
	}
}

// applyEnvOverrides applies CRYSTALMCP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CRYSTALMCP_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Scanner.MaxFileSize = n
		}
	}
	if v := os.Getenv("CRYSTALMCP_MAX_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scanner.MaxFiles = n
		}
	}
	if v := os.Getenv("CRYSTALMCP_IGNORE_FILE"); v != "" {
		c.Scanner.IgnoreFile = v
	}
	if v := os.Getenv("CRYSTALMCP_RESPECT_GITIGNORE"); v != "" {
		c.Scanner.RespectGitignore = boolPtr(strings.ToLower(v) == "true" || v == "1")
	}

	if v := os.Getenv("CRYSTALMCP_CLAIM_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.ClaimTimeout = n
		}
	}
	if v := os.Getenv("CRYSTALMCP_RECOVERY_WINDOW"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Queue.RecoveryWindow = v
		}
	}

	if v := os.Getenv("CRYSTALMCP_HASH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.HashWorkers = n
		}
	}
	if v := os.Getenv("CRYSTALMCP_WATCH_DEBOUNCE"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			c.Performance.WatchDebounce = v
		}
	}

	if v := os.Getenv("CRYSTALMCP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CRYSTALMCP_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}

	if v := os.Getenv("CRYSTALMCP_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
}

// DetectProjectType detects the project type based on marker files.
// Priority: go.mod > package.json > pyproject.toml/requirements.txt
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}

	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}

	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}

	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory or .crystalmcp.yaml/.yml file by walking
// up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		if fileExists(filepath.Join(currentDir, ".crystalmcp.yaml")) ||
			fileExists(filepath.Join(currentDir, ".crystalmcp.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverSourceDirs discovers common source directories in the project.
func DiscoverSourceDirs(dir string) []string {
	commonSourceDirs := []string{"src", "lib", "pkg", "internal", "cmd"}
	frameworkDirs := []string{"app", "pages"} // Next.js, etc.

	var found []string

	for _, d := range commonSourceDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	if isNextJS(dir) {
		for _, d := range frameworkDirs {
			if dirExists(filepath.Join(dir, d)) {
				found = append(found, d)
			}
		}
	}

	return found
}

// DiscoverDocsDirs discovers documentation directories in the project.
func DiscoverDocsDirs(dir string) []string {
	commonDocDirs := []string{"docs", "doc"}
	commonDocFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string

	for _, d := range commonDocDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	for _, f := range commonDocFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break // Only add one README
		}
	}

	return found
}

// isNextJS checks if the project is a Next.js project.
func isNextJS(dir string) bool {
	pkgPath := filepath.Join(dir, "package.json")
	if !fileExists(pkgPath) {
		return false
	}

	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return false
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}

	_, hasNext := pkg.Dependencies["next"]
	_, hasNextDev := pkg.DevDependencies["next"]
	return hasNext || hasNextDev
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func boolPtr(b bool) *bool {
	return &b
}

// String returns a string representation of ProjectType.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown returns true if the project type is known (not unknown).
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// RecoveryWindowDuration returns the parsed recovery window.
func (c *Config) RecoveryWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.Queue.RecoveryWindow)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// WatchDebounceDuration returns the parsed watch debounce interval.
func (c *Config) WatchDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Performance.WatchDebounce)
	if err != nil || d < 0 {
		return 200 * time.Millisecond
	}
	return d
}

// RespectGitignore reports whether .gitignore files should be honored
// during scanning. Unset means true.
func (c *Config) RespectGitignore() bool {
	if c.Scanner.RespectGitignore == nil {
		return true
	}
	return *c.Scanner.RespectGitignore
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	for _, pattern := range c.Paths.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	for _, pattern := range c.Paths.Include {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid include pattern %q", pattern)
		}
	}

	if c.Scanner.MaxFileSize <= 0 {
		return fmt.Errorf("scanner.max_file_size must be positive, got %d", c.Scanner.MaxFileSize)
	}
	if c.Scanner.MaxFiles < 0 {
		return fmt.Errorf("scanner.max_files must be non-negative, got %d", c.Scanner.MaxFiles)
	}

	if c.Queue.ClaimTimeout <= 0 {
		return fmt.Errorf("queue.claim_timeout must be positive, got %d", c.Queue.ClaimTimeout)
	}
	if d, err := time.ParseDuration(c.Queue.RecoveryWindow); err != nil || d <= 0 {
		return fmt.Errorf("queue.recovery_window must be a positive duration, got %q", c.Queue.RecoveryWindow)
	}

	if c.Performance.HashWorkers <= 0 {
		return fmt.Errorf("performance.hash_workers must be positive, got %d", c.Performance.HashWorkers)
	}
	if c.Performance.CacheSize <= 0 {
		return fmt.Errorf("performance.cache_size must be positive, got %d", c.Performance.CacheSize)
	}
	if d, err := time.ParseDuration(c.Performance.WatchDebounce); err != nil || d < 0 {
		return fmt.Errorf("performance.watch_debounce must be a duration, got %q", c.Performance.WatchDebounce)
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if d, err := time.ParseDuration(c.Daemon.MaintenanceInterval); err != nil || d <= 0 {
		return fmt.Errorf("daemon.maintenance_interval must be a positive duration, got %q", c.Daemon.MaintenanceInterval)
	}

	if c.Telemetry.MaxEntries < 0 {
		return fmt.Errorf("telemetry.max_entries must be non-negative, got %d", c.Telemetry.MaxEntries)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Scanner.MaxFileSize == 0 {
		c.Scanner.MaxFileSize = defaults.Scanner.MaxFileSize
		added = append(added, "scanner.max_file_size")
	}
	if c.Scanner.IgnoreFile == "" {
		c.Scanner.IgnoreFile = defaults.Scanner.IgnoreFile
		added = append(added, "scanner.ignore_file")
	}
	if c.Scanner.RespectGitignore == nil {
		c.Scanner.RespectGitignore = defaults.Scanner.RespectGitignore
		added = append(added, "scanner.respect_gitignore")
	}

	if c.Queue.ClaimTimeout == 0 {
		c.Queue.ClaimTimeout = defaults.Queue.ClaimTimeout
		added = append(added, "queue.claim_timeout")
	}
	if c.Queue.RecoveryWindow == "" {
		c.Queue.RecoveryWindow = defaults.Queue.RecoveryWindow
		added = append(added, "queue.recovery_window")
	}

	if c.Performance.HashWorkers == 0 {
		c.Performance.HashWorkers = defaults.Performance.HashWorkers
		added = append(added, "performance.hash_workers")
	}
	if c.Performance.WatchDebounce == "" {
		c.Performance.WatchDebounce = defaults.Performance.WatchDebounce
		added = append(added, "performance.watch_debounce")
	}

	if c.Daemon.MaintenanceInterval == "" {
		c.Daemon.MaintenanceInterval = defaults.Daemon.MaintenanceInterval
		added = append(added, "daemon.maintenance_interval")
	}

	if c.Telemetry.MaxEntries == 0 {
		c.Telemetry.MaxEntries = defaults.Telemetry.MaxEntries
		added = append(added, "telemetry.max_entries")
	}

	return added
}
