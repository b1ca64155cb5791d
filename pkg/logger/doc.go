// Package logger provides structured logging with configurable log levels.
// It wraps the standard log/slog package: JSON output in prod, text output
// elsewhere, and request-scoped attributes pulled from the context.
package logger
