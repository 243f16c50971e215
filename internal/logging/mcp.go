package logging

import (
	"log/slog"
)

// SetupServeMode initializes logging for MCP server mode.
// The MCP protocol owns stdout exclusively for JSON-RPC, and clients treat
// stderr noise as a broken handshake, so serve mode logs only to file.
func SetupServeMode(stateDir, level string) (func(), error) {
	if level == "" {
		level = "debug"
	}

	cfg := Config{
		Level:         level,
		FilePath:      RepoLogPath(stateDir),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}
	if stateDir == "" {
		cfg.FilePath = DefaultLogPath()
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	slog.Info("serve mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
