// Package logger sets up the process-wide JSON slog logger, carries
// request-scoped loggers on contexts, and captures log output in tests.
package logger
