package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autocopy/internal/ledger"
	"autocopy/internal/lifecycle"
	"autocopy/internal/lims"
	"autocopy/internal/logging"
	"autocopy/internal/transfer"
)

// processRun classifies one tracked run and executes the decision.
func (m *Manager) processRun(ctx context.Context, run *Run) error {
	record, _ := m.lookup(ctx, run.Name)
	input := lifecycle.Input{
		Finished: m.evidence.IsFinished(run.Path()),
		Oracle:   record.Status(),
		Copying:  run.Copying(),
	}
	decision := lifecycle.Classify(input)
	logger := m.runLogger(run)
	logger.Debug("run classified",
		logging.String(logging.FieldDecision, decision.String()),
		logging.String("lims_status", input.Oracle.String()),
		logging.Bool("finished", input.Finished),
	)

	switch decision {
	case lifecycle.DecisionAbort:
		return m.abort(ctx, run.Root, run.Name, run)
	case lifecycle.DecisionIgnoreAbort:
		logger.Warn("run failed in LIMS while copying; letting the copy finish",
			logging.String(logging.FieldDecision, decision.String()),
			logging.String(logging.FieldEventType, "abort_ignored"),
		)
		return m.supervise(ctx, run, record)
	case lifecycle.DecisionContinueCopy:
		return m.supervise(ctx, run, record)
	case lifecycle.DecisionStartCopy:
		return m.startCopy(ctx, run, record)
	default:
		return nil
	}
}

// copyingCount is the number of runs that currently own a transfer.
func (m *Manager) copyingCount() int {
	n := 0
	for _, run := range m.runs {
		if run.Copying() {
			n++
		}
	}
	return n
}

func (m *Manager) admit() bool {
	return m.copyingCount() < m.cfg.Copy.MaxProcesses
}

func (m *Manager) startCopy(ctx context.Context, run *Run, record *lims.Record) error {
	logger := m.runLogger(run)
	if !m.admit() {
		logger.Debug("copy deferred; transfer limit reached",
			logging.Int("max_processes", m.cfg.Copy.MaxProcesses),
		)
		return nil
	}
	if err := m.launch(ctx, run); err != nil {
		return err
	}
	if m.oracle == nil {
		return nil
	}
	if record == nil {
		m.send(ctx, runNotFoundMessage(run.Name))
		return nil
	}
	if err := m.oracle.MarkAnalysisStarted(ctx, run.Name); err != nil {
		logging.WarnWithContext(logger, "could not flag analysis started in LIMS", "lims_flag_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "LIMS status not updated; copy continues"),
		)
	}
	return nil
}

func (m *Manager) request(run *Run) transfer.Request {
	return transfer.Request{
		RunName:  run.Name,
		Source:   run.Path(),
		DestHost: m.cfg.Copy.DestHost,
		DestUser: m.cfg.Copy.DestUser,
		DestRoot: m.cfg.Copy.DestRunRoot,
	}
}

// launch is the only place a run acquires a transfer process.
func (m *Manager) launch(ctx context.Context, run *Run) error {
	if run.Copying() {
		return fmt.Errorf("run %s already has transfer pid %d", run.Name, run.proc.PID())
	}
	req := m.request(run)
	proc, err := m.launcher.Launch(ctx, req)
	if err != nil {
		return fmt.Errorf("launch transfer for %s: %w", run.Name, err)
	}
	run.proc = proc
	run.started = m.now()
	run.stopped = time.Time{}
	run.attemptID = m.recordStart(ctx, run, req)

	m.runLogger(run).Info("copy started",
		logging.String(logging.FieldPhase, lifecycle.PhaseCopying.String()),
		logging.Int(logging.FieldPID, proc.PID()),
		logging.String(logging.FieldAttemptID, run.attemptID),
		logging.String("destination", req.Destination()),
	)
	return nil
}

// supervise polls a running transfer without blocking.
func (m *Manager) supervise(ctx context.Context, run *Run, record *lims.Record) error {
	logger := m.runLogger(run)
	code, exited := run.proc.Poll()
	switch {
	case !exited:
		elapsed := m.now().Sub(run.started)
		if elapsed <= m.cfg.StallThreshold() {
			logger.Debug("copy in progress",
				logging.Int(logging.FieldPID, run.proc.PID()),
				logging.Duration("elapsed", elapsed),
			)
			return nil
		}
		return m.restartStalled(ctx, run, logger, elapsed)
	case code == 0:
		m.recordFinish(ctx, run, ledger.OutcomeSucceeded, code)
		return m.complete(ctx, run, record)
	default:
		m.recordFinish(ctx, run, ledger.OutcomeFailed, code)
		run.proc = nil
		run.stopped = m.now()
		logging.ErrorWithContext(logger, "copy failed; run will be retried", "copy_failed",
			logging.Int(logging.FieldExitCode, code),
			logging.String(logging.FieldPhase, lifecycle.PhaseReadyForCopy.String()),
			logging.Alert("copy_failed"),
			logging.String(logging.FieldErrorHint, "check the transfer log under the log directory"),
		)
		m.send(ctx, copyFailedMessage(run, m.request(run), m.hostname(), code))
		return nil
	}
}

func (m *Manager) restartStalled(ctx context.Context, run *Run, logger *slog.Logger, elapsed time.Duration) error {
	pid := run.proc.PID()
	logging.WarnWithContext(logger, "copy exceeded stall threshold; restarting", "copy_stalled",
		logging.Int(logging.FieldPID, pid),
		logging.Duration("elapsed", elapsed),
		logging.Duration("threshold", m.cfg.StallThreshold()),
		logging.String(logging.FieldImpact, "transfer restarted; rsync resumes incrementally"),
	)
	if err := run.proc.Kill(); err != nil {
		return fmt.Errorf("kill stalled transfer pid %d for %s: %w", pid, run.Name, err)
	}
	m.recordFinish(ctx, run, ledger.OutcomeStalled, -1)
	run.proc = nil
	run.restarts++
	if err := m.launch(ctx, run); err != nil {
		return err
	}
	m.send(ctx, copyRestartedMessage(run.Name, m.cfg.StallThreshold()))
	return nil
}

func (m *Manager) recordStart(ctx context.Context, run *Run, req transfer.Request) string {
	if m.history == nil {
		return ""
	}
	id, err := m.history.RecordStart(ctx, ledger.Attempt{
		RunName:     run.Name,
		Root:        run.Root,
		Source:      req.Source,
		Destination: req.Destination(),
		PID:         run.proc.PID(),
		SessionID:   m.sessionID,
		StartedAt:   run.started,
	})
	if err != nil {
		logging.WarnWithContext(m.runLogger(run), "could not record transfer attempt", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "transfer history incomplete"),
		)
		return ""
	}
	return id
}

func (m *Manager) recordFinish(ctx context.Context, run *Run, outcome ledger.Outcome, code int) {
	if m.history == nil || run.attemptID == "" {
		return
	}
	id := run.attemptID
	run.attemptID = ""
	if err := m.history.RecordFinish(ctx, id, outcome, code, m.now()); err != nil {
		logging.WarnWithContext(m.runLogger(run), "could not record transfer result", "ledger_write_failed",
			logging.String(logging.FieldAttemptID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "transfer history incomplete"),
		)
	}
}
