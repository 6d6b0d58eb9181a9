// Package logger builds the log/slog logger used across FarmSync.
//
//   - logger.go: handler construction and the process-wide dynamic level
//   - redact.go: PINs, tokens and secrets never reach the output; mobile
//     numbers keep only their last four digits
//   - context.go: logger and sync-run ID propagation through context
package logger
