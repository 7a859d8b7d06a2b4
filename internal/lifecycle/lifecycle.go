package lifecycle

import "fmt"

// Phase is the lifecycle position of a monitored run directory.
type Phase int

const (
	PhaseNotReady Phase = iota
	PhaseReadyForCopy
	PhaseCopying
	PhaseCompleted
	PhaseAborted
)

var phaseNames = map[Phase]string{
	PhaseNotReady:     "NOT_READY",
	PhaseReadyForCopy: "READY_FOR_COPY",
	PhaseCopying:      "COPYING",
	PhaseCompleted:    "COMPLETED",
	PhaseAborted:      "ABORTED",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether the phase removes a run from the monitored set.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted
}

// Decision is the action the control loop takes for a run in one cycle.
type Decision int

const (
	// DecisionNotReady means acquisition is still in progress; nothing to do.
	DecisionNotReady Decision = iota
	// DecisionStartCopy means the run is finished and idle; launch a transfer
	// if admission allows.
	DecisionStartCopy
	// DecisionContinueCopy hands a running transfer to the supervisor's poll.
	DecisionContinueCopy
	// DecisionAbort moves the run to the aborted archive.
	DecisionAbort
	// DecisionIgnoreAbort is a failed oracle status seen while a transfer is
	// in flight. The transfer keeps running and is polled as usual.
	DecisionIgnoreAbort
)

var decisionNames = map[Decision]string{
	DecisionNotReady:     "NOT_READY",
	DecisionStartCopy:    "START_COPY",
	DecisionContinueCopy: "CONTINUE_COPY",
	DecisionAbort:        "ABORT",
	DecisionIgnoreAbort:  "ALREADY_COPYING_IGNORE_ABORT",
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Copying reports whether the decision leaves a transfer in flight.
func (d Decision) Copying() bool {
	return d == DecisionContinueCopy || d == DecisionIgnoreAbort
}

// OracleStatus is the sequencing status reported by the oracle record.
type OracleStatus int

const (
	// OracleAbsent covers no record, a not-found answer and an unreachable
	// oracle. None of them can trigger an abort.
	OracleAbsent OracleStatus = iota
	OracleNormal
	OracleException
	OracleFailed
)

func (s OracleStatus) String() string {
	switch s {
	case OracleAbsent:
		return "absent"
	case OracleNormal:
		return "normal"
	case OracleException:
		return "exception"
	case OracleFailed:
		return "failed"
	default:
		return fmt.Sprintf("OracleStatus(%d)", int(s))
	}
}

// Input captures what the classifier needs about one run in one cycle.
type Input struct {
	Finished bool
	Oracle   OracleStatus
	Copying  bool
}

// Classify returns the decision for a run. Precedence is fixed: a failed
// status aborts only an idle run, any in-flight transfer continues, a
// finished idle run starts copying, and everything else waits.
func Classify(in Input) Decision {
	failed := in.Oracle == OracleFailed
	switch {
	case failed && !in.Copying:
		return DecisionAbort
	case failed && in.Copying:
		return DecisionIgnoreAbort
	case in.Copying:
		return DecisionContinueCopy
	case in.Finished:
		return DecisionStartCopy
	default:
		return DecisionNotReady
	}
}

// PhaseOf derives the non-terminal phase a run is in from the same inputs.
func PhaseOf(in Input) Phase {
	switch {
	case in.Copying:
		return PhaseCopying
	case in.Finished:
		return PhaseReadyForCopy
	default:
		return PhaseNotReady
	}
}
