// Package logx configures deadlinebot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional operator sink that forwards WARN+ lines to a messaging
//     channel (min-level + rate limiting)
package logx
