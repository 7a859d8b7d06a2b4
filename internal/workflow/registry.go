package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"autocopy/internal/config"
	"autocopy/internal/lifecycle"
	"autocopy/internal/lims"
	"autocopy/internal/logging"
	"autocopy/internal/rundir"
	"autocopy/internal/transfer"
)

// Run is one monitored run directory. Supervision state lives only in memory.
type Run struct {
	Root string
	Name string

	proc      transfer.Process
	attemptID string
	started   time.Time
	stopped   time.Time
	restarts  int
}

// Path returns the absolute run directory path.
func (r *Run) Path() string {
	return filepath.Join(r.Root, r.Name)
}

// Copying reports whether a transfer process is owned by this run.
func (r *Run) Copying() bool {
	return r != nil && r.proc != nil
}

// RunStatus is a point-in-time view of a monitored run.
type RunStatus struct {
	Root      string
	Name      string
	Phase     lifecycle.Phase
	StartedAt time.Time
	PID       int
	Restarts  int
}

// Runs returns the monitored set in enumeration order.
func (m *Manager) Runs() []RunStatus {
	out := make([]RunStatus, 0, len(m.runs))
	for _, run := range m.runs {
		status := RunStatus{
			Root:     run.Root,
			Name:     run.Name,
			Restarts: run.restarts,
			Phase: lifecycle.PhaseOf(lifecycle.Input{
				Finished: m.evidence.IsFinished(run.Path()),
				Copying:  run.Copying(),
			}),
		}
		if run.Copying() {
			status.StartedAt = run.started
			status.PID = run.proc.PID()
		}
		out = append(out, status)
	}
	return out
}

func (m *Manager) findRun(root, name string) *Run {
	for _, run := range m.runs {
		if run.Root == root && run.Name == name {
			return run
		}
	}
	return nil
}

func (m *Manager) removeRun(target *Run) {
	m.runs = slices.DeleteFunc(m.runs, func(run *Run) bool { return run == target })
}

// reconcile rebuilds the monitored set from the run roots. Tracked runs keep
// their supervision state; new runs get one LIMS lookup and are aborted on
// the spot when LIMS already reports them failed.
func (m *Manager) reconcile(ctx context.Context) error {
	var (
		errs []error
		seen []*Run
	)
	for _, root := range m.cfg.Paths.RunRoots {
		entries, err := os.ReadDir(root)
		if err != nil {
			errs = append(errs, fmt.Errorf("scan run root %s: %w", root, err))
			seen = append(seen, m.keepRoot(root, err)...)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !rundir.IsRunName(entry.Name()) {
				continue
			}
			if existing := m.findRun(root, entry.Name()); existing != nil {
				seen = append(seen, existing)
				continue
			}
			run, err := m.discover(ctx, root, entry.Name())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if run != nil {
				seen = append(seen, run)
			}
		}
	}

	for _, run := range m.runs {
		if !slices.Contains(seen, run) {
			m.dropMissing(ctx, run)
		}
	}
	m.runs = seen
	return errors.Join(errs...)
}

// keepRoot returns the tracked runs under an unreadable root. A failed
// listing says nothing about whether those runs still exist.
func (m *Manager) keepRoot(root string, err error) []*Run {
	var kept []*Run
	for _, run := range m.runs {
		if run.Root == root {
			kept = append(kept, run)
		}
	}
	if len(kept) > 0 {
		logging.WarnWithContext(m.logger, "run root unreadable; keeping its tracked runs", "root_unreadable",
			logging.String(logging.FieldRoot, root),
			logging.Int("tracked", len(kept)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no new runs discovered under this root until it is readable"),
		)
	}
	return kept
}

func (m *Manager) discover(ctx context.Context, root, name string) (*Run, error) {
	record, _ := m.lookup(ctx, name)
	if record.Status() == lifecycle.OracleFailed {
		m.logger.Info("new run already failed in LIMS; aborting",
			logging.String(logging.FieldRun, name),
			logging.String(logging.FieldRoot, root),
			logging.String(logging.FieldDecision, lifecycle.DecisionAbort.String()),
		)
		return nil, m.abort(ctx, root, name, nil)
	}
	m.logger.Info("tracking new run",
		logging.String(logging.FieldRun, name),
		logging.String(logging.FieldRoot, root),
		logging.Bool("lims_record", record != nil),
	)
	return &Run{Root: root, Name: name}, nil
}

func (m *Manager) dropMissing(ctx context.Context, run *Run) {
	logger := m.runLogger(run)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_missing"),
		logging.String("policy", m.cfg.Workflow.MissingRunPolicy),
	}
	if run.Copying() {
		attrs = append(attrs, logging.Int(logging.FieldPID, run.proc.PID()))
	}
	logger.Warn("tracked run no longer on disk; forgetting it", logging.Args(attrs...)...)
	if m.cfg.Workflow.MissingRunPolicy == config.MissingRunNotify {
		m.send(ctx, missingRunMessage(run, m.hostname()))
	}
}

var errLIMSSkipped = fmt.Errorf("%w: skipped after an earlier failure this cycle", lims.ErrUnavailable)

// lookup queries LIMS for a run. Errors are logged and yield a nil record so
// callers proceed as if LIMS had no entry. Once LIMS is unavailable the
// remaining lookups of the cycle are skipped.
func (m *Manager) lookup(ctx context.Context, name string) (*lims.Record, error) {
	if m.oracle == nil {
		return nil, nil
	}
	if m.limsDown {
		m.logger.Debug("LIMS unavailable this cycle; lookup skipped", logging.String(logging.FieldRun, name))
		return nil, errLIMSSkipped
	}
	record, err := m.oracle.RunInfo(ctx, name)
	if err == nil {
		return record, nil
	}
	if errors.Is(err, lims.ErrNotFound) {
		m.logger.Info("run not found in LIMS", logging.String(logging.FieldRun, name))
		return nil, err
	}
	if errors.Is(err, lims.ErrUnavailable) {
		m.limsDown = true
	}
	logging.WarnWithContext(m.logger, "LIMS lookup failed; treating run as unknown", "lims_lookup_failed",
		logging.String(logging.FieldRun, name),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check lims.url and lims.token"),
	)
	return nil, err
}
