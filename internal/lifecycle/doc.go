// Package lifecycle defines the phases a monitored run directory moves
// through and the single classification function that maps a run's
// evidence, oracle status and supervision state to the action the control
// loop should take this cycle.
package lifecycle
