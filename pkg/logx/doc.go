// Package logx configures castbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured and rotated by lumberjack
//   - an optional chat sink (min-level + rate limiting)
package logx
