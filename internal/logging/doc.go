// Package logging provides file-based structured logging with rotation for
// crystalmcp. Logs are JSON lines written under the repository state
// directory (or ~/.crystalmcp/logs when no repository is in scope), so that
// MCP serving over stdio never competes with the protocol stream.
package logging
