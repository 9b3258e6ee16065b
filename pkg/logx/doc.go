// Package logx configures the relay's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional admin-chat sink (min-level + rate limiting)
package logx
