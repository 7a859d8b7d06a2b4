// Package workflow drives run directories from discovery to their terminal
// archive location.
//
// The Manager owns the monitored set. Each cycle it reconciles the set
// against the configured run roots, classifies every tracked run with
// lifecycle.Classify, and executes the decision: launching an rsync transfer
// under the concurrency cap, polling running transfers and restarting stalled
// ones, reverting failed transfers for retry, or moving the run into the
// completed or aborted subdirectory of its root. Housekeeping (status summary
// and free-space warnings) runs after the per-run pass on its own timers.
//
// The loop is single-threaded. Collaborators (evidence reader, LIMS oracle,
// transfer launcher, ledger, notifier) are injected at construction so tests
// can drive cycles deterministically with RunCycle.
package workflow
