package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"autocopy/internal/logging"
)

const stopNotifyTimeout = 30 * time.Second

// Run prepares the run roots and loops until ctx is cancelled. Per-cycle
// errors are reported and never end the loop. Transfers still running at
// shutdown are left alone.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.PrepareRoots(); err != nil {
		return err
	}
	m.logger.Info("autocopy started",
		logging.String(logging.FieldSessionID, m.sessionID),
		logging.Int("run_roots", len(m.cfg.Paths.RunRoots)),
		logging.Int("max_processes", m.cfg.Copy.MaxProcesses),
		logging.Bool("lims", m.oracle != nil),
	)
	m.send(ctx, startedMessage())

	for {
		if err := m.RunCycle(ctx); err != nil {
			m.reportCycleError(ctx, err)
		}
		if !m.sleep(ctx) {
			break
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopNotifyTimeout)
	defer cancel()
	m.logger.Info("autocopy stopping",
		logging.Int("copies_in_flight", m.copyingCount()),
	)
	m.send(stopCtx, stoppedMessage())
	return nil
}

// RunCycle performs one reconcile and per-run pass followed by housekeeping.
// Failures of individual runs are joined into the returned error.
func (m *Manager) RunCycle(ctx context.Context) error {
	var errs []error
	m.limsDown = false
	if err := m.guard(func() error { return m.reconcile(ctx) }); err != nil {
		errs = append(errs, err)
	}
	for _, run := range slices.Clone(m.runs) {
		if ctx.Err() != nil {
			break
		}
		if err := m.guard(func() error { return m.processRun(ctx, run) }); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", run.Name, err))
		}
	}
	if ctx.Err() == nil {
		if err := m.guard(func() error { m.housekeeping(ctx); return nil }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// guard converts a panic into an error carrying the stack.
func (m *Manager) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn()
}

func (m *Manager) reportCycleError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	logging.ErrorWithContext(m.logger, "workflow cycle reported errors", "cycle_failed",
		logging.Error(err),
		logging.Alert("cycle_failed"),
		logging.String(logging.FieldErrorHint, "inspect the run roots and archive subdirectories"),
	)
	m.send(ctx, exceptionMessage(err))
}

// sleep waits one poll interval, serving summary requests meanwhile. It
// returns false once ctx is done.
func (m *Manager) sleep(ctx context.Context) bool {
	m.logger.Debug("sleeping", logging.Duration("interval", m.cfg.PollInterval()))
	timer := time.NewTimer(m.cfg.PollInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-m.summaryReq:
			m.logger.Info("status summary requested")
			m.sendSummary(ctx)
		case <-timer.C:
			return true
		}
	}
}
