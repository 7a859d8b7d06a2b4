// Package logging assembles the structured slog loggers used across Autocopy.
//
// It owns the console and JSON handlers, level parsing and output routing
// (stdout plus the dated daemon log file), and exposes attribute helpers and
// standard field names so every component tags lines with the same keys
// (run, root, attempt_id, event_type). A no-op logger is provided for tests
// and wiring code that cannot fail.
package logging
