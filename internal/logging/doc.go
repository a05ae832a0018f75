// Package logging assembles structured slog loggers and formatting helpers used
// across tsmill.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code automatically
// tags log lines with the source file, attempt number, and correlation ID. It
// also provides run-log retention, a time-based progress sampler for encoder
// output, and a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits lines with the same shape.
package logging
