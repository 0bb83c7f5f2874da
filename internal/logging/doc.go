// Package logging configures slog for hybridrag. Logs are JSON lines in a
// size-rotated file under ~/.hybridrag/logs/, optionally mirrored to
// stderr. The serve command never mirrors: stdout and stderr belong to the
// MCP transport and its client.
package logging
