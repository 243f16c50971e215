package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/crystalmcp/crystalmcp/internal/config"
	"github.com/crystalmcp/crystalmcp/internal/logging"
	"github.com/crystalmcp/crystalmcp/internal/mcp"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server for the current repository.

The server hands out files from the processing queue over the Model
Context Protocol. Stdout carries JSON-RPC exclusively, so all logging
goes to the repository log file. Use 'crystalmcp status' or
'crystalmcp logs' for diagnostics while the server runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport protocol (stdio)")

	return cmd
}

// runServe starts the MCP server for the repository containing the
// working directory. Nothing may reach stdout before the server takes
// over: MCP clients treat any non-JSON-RPC bytes as a broken handshake.
func runServe(ctx context.Context, transport string) error {
	if transport == "" {
		transport = "stdio"
	}

	root, err := resolveRoot(".")
	if err != nil {
		return err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanup, err := logging.SetupServeMode(state.Dir(root), cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			return err
		}
	}

	deps, err := buildDeps(root, cfg)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(deps.scanner, deps.detector, deps.queue, deps.store, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() { _ = server.Close() }()

	if err := server.Serve(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// verifyStdinForMCP rejects stdio serving from an interactive terminal.
// An MCP client launches this process with stdin as a pipe; a terminal
// means no client is attached and the server would sit reading keystrokes.
func verifyStdinForMCP() error {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("stdin is a terminal, not a pipe: this command is meant to be launched by an MCP client (use 'crystalmcp next' to work interactively)")
	}
	return nil
}
