package cmd

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_SmartDefault_NoStdoutOutput(t *testing.T) {
	// MCP clients own stdout exclusively for JSON-RPC, so the bare
	// invocation must not print status messages there. Everything is
	// logged to file instead.

	// Given: a root command in a temp directory
	tmpDir := t.TempDir()
	oldDir, _ := os.Getwd()
	_ = os.Chdir(tmpDir)
	defer func() { _ = os.Chdir(oldDir) }()

	// When: executing with no arguments (bounded so the stdio server
	// cannot block the test run)
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cmd.ExecuteContext(ctx) // May fail on closed stdin, that's OK

	// Then: it should NOT produce any status output to stdout
	output := buf.String()
	assert.NotContains(t, output, "🚀", "Should not write status emojis to stdout")
	assert.NotContains(t, output, "Scanning", "Should not write scan status to stdout")
	assert.NotContains(t, output, "Refresh complete", "Should not write refresh status to stdout")
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing with --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()

	// Then: it should show usage information
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "crystalmcp", "Help should mention program name")
	assert.Contains(t, output, "Usage:", "Help should show usage")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	// Given: a root command

	// When: executing with --version
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	err := cmd.Execute()

	// Then: it should show version
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "crystalmcp version", "Version output should use the version template")
	hasVersion := strings.Contains(output, "0.") || strings.Contains(output, "dev")
	assert.True(t, hasVersion, "Version output should contain a version number or 'dev'")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: a root command

	// When: checking available commands
	cmd := NewRootCmd()
	subcommands := cmd.Commands()

	// Then: the workflow commands should exist
	var commandNames []string
	for _, subcmd := range subcommands {
		commandNames = append(commandNames, subcmd.Name())
	}

	assert.Contains(t, commandNames, "serve", "Should have serve subcommand")
	assert.Contains(t, commandNames, "init", "Should have init subcommand")
	assert.Contains(t, commandNames, "refresh", "Should have refresh subcommand")
	assert.Contains(t, commandNames, "next", "Should have next subcommand")
	assert.Contains(t, commandNames, "done", "Should have done subcommand")
	assert.Contains(t, commandNames, "status", "Should have status subcommand")
	assert.Contains(t, commandNames, "daemon", "Should have daemon subcommand")
	assert.Contains(t, commandNames, "config", "Should have config subcommand")
}

func TestRootCmd_HasRefreshFlag(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should have --refresh flag
	flag := cmd.Flags().Lookup("refresh")
	assert.NotNil(t, flag, "Should have --refresh flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootCmd_HasSkipCheckFlag(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should have --skip-check flag
	flag := cmd.Flags().Lookup("skip-check")
	assert.NotNil(t, flag, "Should have --skip-check flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootCmd_HasDebugFlag(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// Then: it should have the persistent --debug flag
	flag := cmd.PersistentFlags().Lookup("debug")
	assert.NotNil(t, flag, "Should have --debug flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRefreshCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing refresh --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"refresh", "--help"})

	err := cmd.Execute()

	// Then: it should show refresh usage
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "refresh", "Refresh help should mention refresh")
	assert.Contains(t, output, "queue", "Refresh help should mention the queue")
}

func TestNextCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing next --help
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"next", "--help"})

	err := cmd.Execute()

	// Then: it should show next usage
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "next", "Next help should mention next")
	assert.Contains(t, output, "claim", "Next help should mention claiming")
}
