// Package obslog configures process-wide structured logging and exposes
// helpers for the audit events safety, tool execution, and MCP lifecycle
// code needs to emit. zerolog is promoted to a direct, project-wide logger
// rather than leaving every package call zerolog.Log.* piecemeal.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs the global logger. pretty selects a human-readable console
// writer (for interactive terminals); otherwise events are newline-delimited
// JSON suitable for redirecting to a file or log collector.
func Init(pretty bool, level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// ToolCall records one tool invocation's outcome for the audit trail (§4.G).
func ToolCall(tool string, safe bool, mode string, success bool, durationMs int64) {
	log.Info().
		Str("event", "tool_call").
		Str("tool", tool).
		Bool("safe", safe).
		Str("mode", mode).
		Bool("success", success).
		Int64("duration_ms", durationMs).
		Msg("tool executed")
}

// ToolDenied records a command the safety policy blocked before it ever
// reached a process (§4.A).
func ToolDenied(tool, command, kind, message string) {
	log.Warn().
		Str("event", "tool_denied").
		Str("tool", tool).
		Str("kind", kind).
		Str("command", command).
		Msg(message)
}

// CommandTimeout records a command runner invocation that exceeded its
// configured duration cap (§4.B).
func CommandTimeout(command string, durationMs int64) {
	log.Warn().
		Str("event", "command_timeout").
		Str("command", command).
		Int64("duration_ms", durationMs).
		Msg("command exceeded the configured duration")
}

// PathRejected records a path validation failure (§4.C).
func PathRejected(input, reason string) {
	log.Warn().
		Str("event", "path_rejected").
		Str("input", input).
		Msg(reason)
}

// MCPLifecycle records server start/stop/registration events (§4.I-J).
func MCPLifecycle(server, phase string, err error) {
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("event", "mcp_lifecycle").Str("server", server).Str("phase", phase).Msg("mcp server event")
}

// MCPConnectFailed records that spawning, initializing, or listing tools
// against an MCP server failed (§4.I-J).
func MCPConnectFailed(server string, err error) {
	log.Warn().
		Str("event", "mcp_connect_failed").
		Str("server", server).
		Err(err).
		Msg("mcp server connect failed")
}

// Compaction records that the transcript was rewritten by auto-compression
// (§4.K), including the token estimate before and after.
func Compaction(beforeTokens, afterTokens int) {
	log.Info().
		Str("event", "compaction").
		Int("before_tokens", beforeTokens).
		Int("after_tokens", afterTokens).
		Msg("transcript compacted")
}

// SessionStart records a new session's id, so REPL history entries and
// audit events across the other helpers in this package can be correlated
// back to the run that produced them.
func SessionStart(sessionID, workspaceRoot string) {
	log.Info().
		Str("event", "session_start").
		Str("session_id", sessionID).
		Str("workspace", workspaceRoot).
		Msg("session started")
}

// SessionOpenFailed records that the per-user history file could not be
// opened; the session still runs, just without a persisted REPL history.
func SessionOpenFailed(sessionID string, err error) {
	log.Warn().
		Str("event", "session_history_unavailable").
		Str("session_id", sessionID).
		Err(err).
		Msg("could not open history file")
}
