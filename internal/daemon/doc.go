// Package daemon wraps the workflow loop in the process-level concerns of a
// long-running autocopy instance.
//
// It holds a flock-based lock in the state directory so only one daemon
// watches a set of run roots, writes a pid file for the CLI, marks ledger
// attempts left running by a previous process as orphaned, and wires
// SIGINT/SIGTERM to a graceful stop and SIGUSR1 to an on-demand status
// summary. Transfer child processes are never waited on at shutdown.
//
// Helpers in this package also serve the CLI side: reading the pid file,
// probing whether the recorded process is alive, and signalling it.
package daemon
