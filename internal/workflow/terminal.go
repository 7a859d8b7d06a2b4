package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"autocopy/internal/ledger"
	"autocopy/internal/lifecycle"
	"autocopy/internal/lims"
	"autocopy/internal/logging"
	"autocopy/internal/rundir"
)

const (
	archiveReadme     = "README.txt"
	archiveReadmeBody = "Runs in this directory are generally OK to delete."
)

// completion collects the diagnostics reported when a copy finishes.
type completion struct {
	missing       []string
	discrepancies []string
	metadata      rundir.Metadata
	diskUsage     int64
	destination   string
}

func (c completion) hasProblems() bool {
	return len(c.missing) > 0 || len(c.discrepancies) > 0
}

// complete archives a successfully copied run. A failed move keeps the run
// tracked with its exited process so the next cycle retries the move.
func (m *Manager) complete(ctx context.Context, run *Run, record *lims.Record) error {
	logger := m.runLogger(run)
	path := run.Path()
	result := completion{missing: m.evidence.MissingFiles(path)}

	meta, err := m.evidence.Inspect(path)
	if err != nil {
		logging.WarnWithContext(logger, "could not read run metadata", "run_metadata_unreadable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "LIMS cross-check skipped"),
		)
	} else {
		result.metadata = meta
		result.discrepancies = crossCheck(run.Name, meta, record)
	}
	if usage, err := m.evidence.DiskUsage(path); err != nil {
		logging.WarnWithContext(logger, "could not measure disk usage", "disk_usage_failed", logging.Error(err))
	} else {
		result.diskUsage = usage
	}
	stopped := m.now()

	dest := filepath.Join(run.Root, m.cfg.Workflow.CompletedSubdir, run.Name)
	if err := moveRun(path, dest); err != nil {
		return err
	}
	result.destination = dest
	run.proc = nil
	run.stopped = stopped
	m.removeRun(run)
	m.recordMove(ctx, run, ledger.MoveCompleted, path, dest, strings.Join(slices.Concat(result.missing, result.discrepancies), "; "))

	req := m.request(run)
	if err := m.launcher.MarkComplete(ctx, req); err != nil {
		logging.WarnWithContext(logger, "could not create remote completion marker", "remote_marker_failed",
			logging.Error(err),
			logging.String("remote_path", req.RemoteRunPath()),
			logging.String(logging.FieldImpact, "downstream consumers will not see the completion marker"),
		)
	}

	logger.Info("copy completed",
		logging.String(logging.FieldPhase, lifecycle.PhaseCompleted.String()),
		logging.String("destination", dest),
		logging.Int("missing_files", len(result.missing)),
		logging.Int("lims_discrepancies", len(result.discrepancies)),
		logging.Duration("copy_time", run.stopped.Sub(run.started)),
	)
	m.send(ctx, copyCompleteMessage(run, req, m.hostname(), result))
	return nil
}

// abort moves a run into the aborted subdirectory. A tracked run is also
// flagged failed in LIMS and dropped from the monitored set.
func (m *Manager) abort(ctx context.Context, root, name string, run *Run) error {
	src := filepath.Join(root, name)
	dest := filepath.Join(root, m.cfg.Workflow.AbortedSubdir, name)
	if err := moveRun(src, dest); err != nil {
		return err
	}
	logger := m.logger.With(logging.String(logging.FieldRun, name), logging.String(logging.FieldRoot, root))
	if run != nil {
		m.removeRun(run)
		if m.oracle != nil {
			if err := m.oracle.MarkSequencingFailed(ctx, name); err != nil {
				logging.WarnWithContext(logger, "could not flag sequencing failed in LIMS", "lims_flag_failed",
					logging.Error(err),
				)
			}
		}
	} else {
		run = &Run{Root: root, Name: name}
	}
	m.recordMove(ctx, run, ledger.MoveAborted, src, dest, "")
	logger.Info("run aborted",
		logging.String(logging.FieldPhase, lifecycle.PhaseAborted.String()),
		logging.String("destination", dest),
	)
	m.send(ctx, abortedMessage(name, dest, m.cfg.Workflow.AbortedSubdir))
	return nil
}

func (m *Manager) recordMove(ctx context.Context, run *Run, kind ledger.MoveKind, from, to, detail string) {
	if m.history == nil {
		return
	}
	err := m.history.RecordMove(ctx, ledger.Move{
		RunName: run.Name,
		Kind:    kind,
		From:    from,
		To:      to,
		MovedAt: m.now(),
		Detail:  detail,
	})
	if err != nil {
		logging.WarnWithContext(m.runLogger(run), "could not record run move", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "transfer history incomplete"),
		)
	}
}

// moveRun renames src to dest, creating the archive directory when needed.
// An existing dest is never replaced.
func moveRun(src, dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrRename, dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", ErrRename, dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o775); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrRename, filepath.Dir(dest), err)
	}
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("%w: move %s to %s: %v", ErrRename, src, dest, err)
	}
	return nil
}

// PrepareRoots creates each run root with its completed and aborted
// subdirectories, each holding a README that marks it safe to clean.
func (m *Manager) PrepareRoots() error {
	for _, root := range m.cfg.Paths.RunRoots {
		if err := os.MkdirAll(root, 0o775); err != nil {
			return fmt.Errorf("create run root %s: %w", root, err)
		}
		for _, sub := range []string{m.cfg.Workflow.AbortedSubdir, m.cfg.Workflow.CompletedSubdir} {
			dir := filepath.Join(root, sub)
			if err := os.MkdirAll(dir, 0o775); err != nil {
				return fmt.Errorf("create archive dir %s: %w", dir, err)
			}
			readme := filepath.Join(dir, archiveReadme)
			if _, err := os.Stat(readme); err == nil {
				continue
			}
			if err := os.WriteFile(readme, []byte(archiveReadmeBody), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", readme, err)
			}
		}
	}
	return nil
}

// crossCheck compares run directory metadata with the LIMS record and
// returns one line per mismatched field.
func crossCheck(name string, meta rundir.Metadata, record *lims.Record) []string {
	if record == nil {
		return nil
	}
	fold := cases.Fold()
	fields := []struct {
		field  string
		local  string
		remote string
	}{
		{"Run name", name, record.RunName},
		{"Sequencing instrument", fold.String(meta.Instrument), fold.String(record.SequencingInstrument)},
		{"Sequencer software version", normalizeSoftware(meta.ControlSoftware()), fold.String(record.SequencerSoftware)},
		{"Paired end", strconv.FormatBool(meta.PairedEnd()), strconv.FormatBool(record.PairedEnd)},
		{"Read 1 cycles", strconv.Itoa(meta.Read1Cycles()), strconv.Itoa(record.Read1Cycles)},
		{"Read 2 cycles", strconv.Itoa(meta.Read2Cycles()), strconv.Itoa(record.Read2Cycles)},
		{"Is indexed", strconv.FormatBool(meta.HasIndexRead()), strconv.FormatBool(record.IndexRead)},
	}
	var problems []string
	for _, f := range fields {
		if f.local != f.remote {
			problems = append(problems, fmt.Sprintf(`Mismatched value "%s". Value in run directory: "%s". Value in LIMS: "%s"`, f.field, f.local, f.remote))
		}
	}
	return problems
}

// normalizeSoftware maps "MiSeq Control Software 2.6.2.1" onto the LIMS form
// "miseq_control_software_2_6_2_1".
func normalizeSoftware(value string) string {
	return cases.Fold().String(strings.NewReplacer(" ", "_", ".", "_").Replace(value))
}
