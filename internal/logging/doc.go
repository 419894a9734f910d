// Package logging builds the slog loggers used across retrace.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// standard field keys recorder and replay code tag their lines with. The
// console handler puts the session, participant and frame in the line header
// so per-frame warnings read in order. A no-op logger is provided for tests
// and wiring code that has no logger.
package logging
