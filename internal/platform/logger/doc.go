// Package logger sets up the application's structured JSON logging on
// log/slog and carries request-scoped loggers through context.
package logger
