// Package main hosts the autocopy CLI entrypoint and command graph.
//
// `autocopy run` starts the daemon in the foreground. The remaining commands
// inspect it through its pid file and transfer ledger, signal it for an
// on-demand summary, run preflight checks, build archival tarballs, and
// scaffold configuration.
package main
