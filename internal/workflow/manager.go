package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"autocopy/internal/config"
	"autocopy/internal/ledger"
	"autocopy/internal/lims"
	"autocopy/internal/logging"
	"autocopy/internal/notifications"
	"autocopy/internal/preflight"
	"autocopy/internal/rundir"
	"autocopy/internal/transfer"
)

// ErrRename reports that a run could not be moved into an archive subdirectory.
// The run stays tracked and the move is retried on the next cycle.
var ErrRename = errors.New("run directory move failed")

// ErrPanic wraps a recovered panic from inside a cycle.
var ErrPanic = errors.New("workflow cycle panicked")

// Evidence answers questions about a run directory on local disk.
type Evidence interface {
	IsFinished(path string) bool
	MissingFiles(path string) []string
	Inspect(path string) (rundir.Metadata, error)
	DiskUsage(path string) (int64, error)
}

// Oracle is the LIMS view of sequencing runs.
type Oracle interface {
	RunInfo(ctx context.Context, runName string) (*lims.Record, error)
	MarkSequencingFailed(ctx context.Context, runName string) error
	MarkAnalysisStarted(ctx context.Context, runName string) error
}

// History persists transfer attempts and terminal moves.
type History interface {
	RecordStart(ctx context.Context, a ledger.Attempt) (string, error)
	RecordFinish(ctx context.Context, id string, outcome ledger.Outcome, exitCode int, finishedAt time.Time) error
	RecordMove(ctx context.Context, m ledger.Move) error
	StatsSince(ctx context.Context, since time.Time) (ledger.Stats, error)
}

// Manager owns the monitored set and runs the control loop.
type Manager struct {
	cfg       *config.Config
	logger    *slog.Logger
	evidence  Evidence
	oracle    Oracle
	launcher  transfer.Launcher
	history   History
	notifier  notifications.Service
	freeSpace func(path string) (int64, error)
	now       func() time.Time
	sessionID string

	runs     []*Run
	limsDown bool

	lastSummary   time.Time
	lastFreespace time.Time
	summaryReq    chan struct{}
}

// ManagerOption configures optional Manager collaborators.
type ManagerOption func(*Manager)

// WithEvidence replaces the on-disk run directory reader.
func WithEvidence(e Evidence) ManagerOption {
	return func(m *Manager) { m.evidence = e }
}

// WithOracle replaces the LIMS client. A nil oracle disables LIMS lookups.
func WithOracle(o Oracle) ManagerOption {
	return func(m *Manager) { m.oracle = o }
}

// WithLauncher replaces the rsync/ssh launcher.
func WithLauncher(l transfer.Launcher) ManagerOption {
	return func(m *Manager) { m.launcher = l }
}

// WithHistory records attempts and moves in a ledger.
func WithHistory(h History) ManagerOption {
	return func(m *Manager) { m.history = h }
}

// WithNotifier replaces the operator notification service.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithFreeSpace replaces the statfs free-space probe.
func WithFreeSpace(fn func(path string) (int64, error)) ManagerOption {
	return func(m *Manager) { m.freeSpace = fn }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithSessionID tags ledger attempts with the given daemon session id.
func WithSessionID(id string) ManagerOption {
	return func(m *Manager) { m.sessionID = id }
}

// NewManager constructs a workflow manager. Collaborators not supplied as
// options are built from the configuration.
func NewManager(cfg *config.Config, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "workflow"),
		evidence:   rundir.NewReader(),
		launcher:   transfer.NewExecLauncher(cfg),
		freeSpace:  preflight.FreeSpace,
		now:        time.Now,
		sessionID:  uuid.NewString(),
		summaryReq: make(chan struct{}, 1),
	}
	if cfg.LIMS.Enabled {
		m.oracle = lims.NewClient(lims.Config{
			URL:        cfg.LIMS.URL,
			Token:      cfg.LIMS.Token,
			APIVersion: cfg.LIMS.APIVersion,
			Timeout:    cfg.LIMSTimeout(),
		})
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(cfg, logger)
	}
	return m
}

// SessionID returns the identifier attached to this daemon's ledger rows.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// RequestSummary asks the loop to send a status summary at its next
// opportunity. Requests arriving while one is pending are coalesced.
func (m *Manager) RequestSummary() {
	select {
	case m.summaryReq <- struct{}{}:
	default:
	}
}

func (m *Manager) runLogger(run *Run) *slog.Logger {
	return m.logger.With(
		logging.String(logging.FieldRun, run.Name),
		logging.String(logging.FieldRoot, run.Root),
	)
}
