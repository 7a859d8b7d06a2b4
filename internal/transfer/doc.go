// Package transfer runs the external copy tool for run directories.
//
// Each Launch starts rsync over ssh as a child process in its own process
// group with output appended to a per-run log. The child is not tied to the
// daemon's context, so stopping the daemon leaves transfers running; the
// checksum-based rsync arguments make a later relaunch resume rather than
// restart. Completion is observed by polling, never by blocking.
package transfer
