package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/configs"
	"github.com/crystalmcp/crystalmcp/internal/config"
	"github.com/crystalmcp/crystalmcp/internal/output"
	"github.com/crystalmcp/crystalmcp/internal/preflight"
	"github.com/crystalmcp/crystalmcp/internal/state"
	"github.com/crystalmcp/crystalmcp/internal/ui"
	"github.com/crystalmcp/crystalmcp/pkg/version"
)

// MCPServerConfig represents one server entry in .mcp.json.
type MCPServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// MCPConfig represents the root .mcp.json structure.
type MCPConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

func newInitCmd() *cobra.Command {
	var (
		global     bool
		force      bool
		configOnly bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize crystalmcp for a repository",
		Long: `Initialize crystalmcp for the current repository.

This command:
1. Configures MCP integration (via 'claude mcp add' or .mcp.json)
2. Generates a .crystalmcp.yaml configuration template
3. Adds the analysis workflow guide to CLAUDE.md
4. Runs system checks and the first scan (unless --config-only)

After running, restart your MCP client to pick up the server.`,
		Example: `  # Initialize in current repository
  crystalmcp init

  # Initialize globally (available in all repositories)
  crystalmcp init --global

  # Force reinitialize (overwrite existing config)
  crystalmcp init --force

  # Fix config only (skip the first scan)
  crystalmcp init --force --config-only`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runInit(ctx, cmd, global, force, configOnly)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Configure for all repositories (user scope)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "Configure MCP only, skip the first scan")

	return cmd
}

// crystalStartMarker is the HTML comment that marks the beginning of the
// crystalmcp guide section in CLAUDE.md.
const crystalStartMarker = "<!-- crystalmcp:start -->"

// crystalGuideContent is the workflow guide added to CLAUDE.md.
const crystalGuideContent = `<!-- crystalmcp:start -->
## Crystal Analysis Queue (Process Files Through MCP)

**crystalmcp hands out repository files one at a time** so exhaustive
analysis never skips or repeats a file. Do not pick files yourself.

### Workflow: next_file -> analyze -> save_result

` + "```" + `
# 1. Claim the next pending file
mcp__crystalmcp__next_file

# 2. Read and analyze the file it returns

# 3. Store the analysis (also marks the file processed)
mcp__crystalmcp__save_result
` + "```" + `

### Rules

- Call next_file to choose work; the queue orders files by priority
- save_result stores the analysis doc and marks the file done
- get_progress reports processed/pending counts and the session ETA
- detect_changes requeues files modified since the last pass
<!-- crystalmcp:end -->
`

// hasCrystalGuide checks if CLAUDE.md contains the crystalmcp guide section.
func hasCrystalGuide(path string) (bool, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading CLAUDE.md: %w", err)
	}
	return strings.Contains(string(content), crystalStartMarker), nil
}

// hasCrystalIgnore checks if .crystalmcp is already in .gitignore.
// Handles variations: .crystalmcp, .crystalmcp/, /.crystalmcp, /.crystalmcp/
func hasCrystalIgnore(content string) bool {
	patterns := []string{
		".crystalmcp",
		".crystalmcp/",
		"/.crystalmcp",
		"/.crystalmcp/",
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, pattern := range patterns {
			if line == pattern {
				return true
			}
		}
	}
	return false
}

// ensureGitignore adds .crystalmcp to .gitignore if not present.
// Returns (true, nil) if added, (false, nil) if already present.
func ensureGitignore(projectRoot string) (bool, error) {
	gitignorePath := filepath.Join(projectRoot, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	if hasCrystalIgnore(string(content)) {
		return false, nil
	}

	// Match the existing line ending, defaulting to LF.
	lineEnding := "\n"
	if bytes.Contains(content, []byte("\r\n")) {
		lineEnding = "\r\n"
	}

	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, []byte(lineEnding)...)
	}

	var entry string
	if len(content) == 0 {
		entry = fmt.Sprintf("# crystalmcp analysis state (auto-generated)%s.crystalmcp/%s",
			lineEnding, lineEnding)
	} else {
		entry = fmt.Sprintf("%s# crystalmcp analysis state (auto-generated)%s.crystalmcp/%s",
			lineEnding, lineEnding, lineEnding)
	}

	content = append(content, []byte(entry)...)

	if err := os.WriteFile(gitignorePath, content, 0644); err != nil {
		return false, fmt.Errorf("writing .gitignore: %w", err)
	}

	return true, nil
}

// ensureCrystalGuide adds the workflow guide to CLAUDE.md if not present.
// Returns (added bool, err error).
func ensureCrystalGuide(path string) (bool, error) {
	fileExists := true
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fileExists = false
	}

	if fileExists {
		hasGuide, err := hasCrystalGuide(path)
		if err != nil {
			return false, err
		}
		if hasGuide {
			return false, nil
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return false, fmt.Errorf("opening CLAUDE.md: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteString("\n\n" + crystalGuideContent); err != nil {
			return false, fmt.Errorf("appending to CLAUDE.md: %w", err)
		}
		return true, nil
	}

	if err := os.WriteFile(path, []byte(crystalGuideContent), 0644); err != nil {
		return false, fmt.Errorf("creating CLAUDE.md: %w", err)
	}
	return true, nil
}

// generateCrystalmcpYAML creates a template .crystalmcp.yaml if neither
// extension variant exists. The template is embedded at build time from
// configs/project-config.example.yaml, so it ships in binary
// distributions. Existing files are never overwritten.
func generateCrystalmcpYAML(out *output.Writer, projectRoot string) error {
	yamlPath := filepath.Join(projectRoot, ".crystalmcp.yaml")

	if _, err := os.Stat(yamlPath); err == nil {
		out.Status("ℹ️ ", "Existing .crystalmcp.yaml preserved")
		return nil
	}

	ymlPath := filepath.Join(projectRoot, ".crystalmcp.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		out.Status("ℹ️ ", "Existing .crystalmcp.yml found, skipping template")
		return nil
	}

	if err := os.WriteFile(yamlPath, []byte(configs.ProjectConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write .crystalmcp.yaml: %w", err)
	}

	out.Statusf("📝", "Created .crystalmcp.yaml (optional project configuration)")
	return nil
}

// validateExistingMCPConfig checks if an existing .mcp.json entry has the
// fields the server needs to start from the right directory.
func validateExistingMCPConfig(mcpPath string) (bool, []string) {
	var warnings []string

	data, err := os.ReadFile(mcpPath)
	if err != nil {
		return false, nil
	}

	var cfg MCPConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		warnings = append(warnings, "Invalid JSON in .mcp.json")
		return false, warnings
	}

	entry, exists := cfg.MCPServers["crystalmcp"]
	if !exists {
		warnings = append(warnings, "crystalmcp not configured in .mcp.json")
		return false, warnings
	}

	if entry.Cwd == "" {
		warnings = append(warnings, "Missing 'cwd' field - MCP server may run from wrong directory")
	}
	if entry.Command == "" {
		warnings = append(warnings, "Missing 'command' field")
	}

	return len(warnings) == 0, warnings
}

func runInit(ctx context.Context, cmd *cobra.Command, global, force, configOnly bool) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🚀", "crystalmcp %s - Initializing...", version.Version)
	out.Newline()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		root = cwd
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	out.Statusf("📁", "Repository: %s", absRoot)

	mcpConfigPath := filepath.Join(absRoot, ".mcp.json")

	if !force {
		if _, err := os.Stat(mcpConfigPath); err == nil {
			isValid, warnings := validateExistingMCPConfig(mcpConfigPath)
			out.Newline()

			if !isValid && len(warnings) > 0 {
				out.Warning("Existing .mcp.json has configuration issues:")
				for _, w := range warnings {
					out.Statusf("  ⚠️ ", "%s", w)
				}
				out.Newline()
				out.Status("💡", "Use --force to fix these issues")
				return nil
			}

			out.Warning("Repository already initialized (.mcp.json exists)")
			out.Status("💡", "Use --force to reinitialize")
			return nil
		}
	}

	// Step 1: Configure MCP
	out.Newline()
	out.Status("⚙️ ", "Configuring MCP integration...")

	mcpConfigured, err := configureMCP(ctx, out, absRoot, global, force)
	if err != nil {
		out.Warningf("MCP configuration failed: %v", err)
		out.Status("💡", "You can manually configure .mcp.json later")
	} else if mcpConfigured {
		if global {
			out.Success("Added MCP server (user scope - all repositories)")
		} else {
			out.Success("Added MCP server (project scope)")
		}
	}

	// Step 2: Generate .crystalmcp.yaml template (optional config)
	if err := generateCrystalmcpYAML(out, absRoot); err != nil {
		out.Warningf("Could not create .crystalmcp.yaml template: %v", err)
	}

	// Step 3: Add the CLAUDE.md workflow guide
	claudeMDPath := filepath.Join(absRoot, "CLAUDE.md")
	added, err := ensureCrystalGuide(claudeMDPath)
	if err != nil {
		out.Warningf("Could not update CLAUDE.md: %v", err)
	} else if added {
		out.Success("Added crystalmcp workflow guide to CLAUDE.md")
	} else {
		out.Status("ℹ️ ", "CLAUDE.md already has crystalmcp guide")
	}

	// Step 4: Ensure .crystalmcp in .gitignore
	added, err = ensureGitignore(absRoot)
	if err != nil {
		out.Warningf("Could not update .gitignore: %v", err)
	} else if added {
		out.Status("📝", "Added .crystalmcp to .gitignore")
	}

	// Step 5: System checks
	out.Newline()
	out.Status("🔍", "Running system checks...")
	checker := preflight.New(preflight.WithOutput(cmd.OutOrStdout()))
	results := checker.RunAll(ctx, absRoot)
	checker.PrintResults(results)
	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	if err := preflight.MarkPassed(state.Dir(absRoot)); err != nil {
		out.Warningf("Could not record check marker: %v", err)
	}

	// Step 6: First scan (skip if --config-only)
	if configOnly {
		out.Newline()
		out.Status("⏭️ ", "Skipping first scan (--config-only)")
	} else {
		out.Newline()
		out.Status("📊", "Scanning repository...")

		cfg, err := config.Load(absRoot)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		deps, err := buildDeps(absRoot, cfg)
		if err != nil {
			return err
		}

		renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithRepoDir(absRoot)))
		refresher, err := deps.refresherFor(renderer)
		if err != nil {
			return err
		}

		startTime := time.Now()
		summary, err := refresher.Run(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		duration := time.Since(startTime)

		out.Newline()
		out.Statusf("⏱️ ", "Completed in %.1fs", duration.Seconds())
		out.Statusf("📦", "%d files scanned, %d queued for analysis", summary.Scanned, summary.Queued)
	}

	// Final instructions
	out.Newline()
	if configOnly {
		out.Success("Configuration complete!")
	} else {
		out.Success("Initialization complete!")
	}
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Restart your MCP client to activate the server")
	out.Status("", "  2. Ask the agent to work through the analysis queue")
	out.Status("", "  3. Run 'crystalmcp status' to track progress")

	if !config.UserConfigExists() {
		out.Newline()
		out.Status("💡", "For machine-specific settings (workers, telemetry):")
		out.Status("", "   Run 'crystalmcp config init' to create user config")
	}

	if !mcpConfigured {
		out.Newline()
		out.Warning("MCP not auto-configured - manual setup required")
		out.Status("💡", fmt.Sprintf("Add to .mcp.json: %s", mcpConfigPath))
	}

	return nil
}

// configureMCP attempts to configure MCP via the claude CLI or falls
// back to writing .mcp.json directly.
func configureMCP(ctx context.Context, out *output.Writer, projectRoot string, global, force bool) (bool, error) {
	if claudeConfigured, err := configureViaClaude(ctx, out, projectRoot, global); err == nil && claudeConfigured {
		return true, nil
	}

	return configureViaMCPJSON(out, projectRoot, force)
}

// configureViaClaude attempts to use 'claude mcp add'. The CLI has no
// --cwd flag, so it only serves the global scope; project scope needs
// the cwd field that .mcp.json supports.
func configureViaClaude(ctx context.Context, out *output.Writer, projectRoot string, global bool) (bool, error) {
	if !global {
		out.Status("ℹ️ ", "Using .mcp.json for project scope (supports cwd)")
		return false, nil
	}

	claudePath, err := exec.LookPath("claude")
	if err != nil {
		out.Status("ℹ️ ", "Claude CLI not found, using .mcp.json fallback")
		return false, nil
	}

	out.Statusf("🔍", "Found Claude CLI: %s", claudePath)

	binPath, err := findCrystalmcpBinary()
	if err != nil {
		return false, fmt.Errorf("failed to find crystalmcp binary: %w", err)
	}

	args := []string{"mcp", "add", "--transport", "stdio", "--scope", "user"}
	args = append(args, "crystalmcp", "--", binPath, "serve")

	execCmd := exec.CommandContext(ctx, claudePath, args...)
	execCmd.Dir = projectRoot
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr

	if err := execCmd.Run(); err != nil {
		return false, fmt.Errorf("claude mcp add failed: %w", err)
	}

	return true, nil
}

// configureViaMCPJSON creates or updates .mcp.json in the project root.
func configureViaMCPJSON(out *output.Writer, projectRoot string, force bool) (bool, error) {
	mcpPath := filepath.Join(projectRoot, ".mcp.json")

	var existing MCPConfig
	if data, err := os.ReadFile(mcpPath); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return false, fmt.Errorf("failed to parse existing .mcp.json: %w", err)
		}

		if _, exists := existing.MCPServers["crystalmcp"]; exists && !force {
			out.Status("ℹ️ ", "crystalmcp already configured in .mcp.json")
			return true, nil
		}
	} else {
		existing = MCPConfig{
			MCPServers: make(map[string]MCPServerConfig),
		}
	}

	binPath, err := findCrystalmcpBinary()
	if err != nil {
		return false, fmt.Errorf("failed to find crystalmcp binary: %w", err)
	}

	existing.MCPServers["crystalmcp"] = MCPServerConfig{
		Type:    "stdio",
		Command: binPath,
		Args:    []string{"serve"},
		Cwd:     projectRoot,
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(mcpPath, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write .mcp.json: %w", err)
	}

	out.Statusf("📝", "Created %s", mcpPath)
	return true, nil
}

// findCrystalmcpBinary locates the crystalmcp binary.
func findCrystalmcpBinary() (string, error) {
	execPath, err := os.Executable()
	if err == nil {
		realPath, err := filepath.EvalSymlinks(execPath)
		if err == nil {
			return realPath, nil
		}
		return execPath, nil
	}

	path, err := exec.LookPath("crystalmcp")
	if err != nil {
		return "", fmt.Errorf("crystalmcp not found in PATH: %w", err)
	}

	return path, nil
}
