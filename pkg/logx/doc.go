// Package logx configures remindbot's structured logging.
//
// Logger is a small value-type wrapper over zerolog:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - optional chat-room sink (min level + rate limiting)
package logx
