// Package preflight provides readiness checks for the copy daemon's
// filesystem paths, external binaries and services.
//
// These checks run in two contexts:
//   - `autocopy check` runs RunAll and prints each result.
//   - The workflow manager calls FreeSpace during its hourly housekeeping
//     and warns operators when a run root drops below min_free_space.
//
// Each service check is gated by its config toggle; disabled features are skipped.
package preflight
