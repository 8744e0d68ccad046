// Package logger provides structured logging for SessionGuard.
//
// It wraps log/slog behind a small Logger interface:
//
//   - logger.go: construction, level control and the package default
//   - context.go: request id propagation through context.Context
//   - redact.go: masking of credentials and secrets before they are written
//
// Every component accepts a Logger and falls back to Default() when none is
// given. Credentials must be logged by fingerprint only; redaction is the
// second line of defence for values that slip through.
package logger
