package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"autocopy/internal/config"
	"autocopy/internal/logging"
)

var (
	// ErrAlreadyRunning reports that another daemon holds the instance lock.
	ErrAlreadyRunning = errors.New("another autocopy daemon instance is already running")
	// ErrNotRunning reports that no live daemon is recorded in the pid file.
	ErrNotRunning = errors.New("autocopy daemon is not running")
)

// Loop is the control loop the daemon supervises.
type Loop interface {
	Run(ctx context.Context) error
	RequestSummary()
}

// OrphanMarker closes out transfer attempts left by a previous process.
type OrphanMarker interface {
	MarkOrphaned(ctx context.Context, now time.Time) (int64, error)
}

// Daemon coordinates the workflow loop and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	loop    Loop
	orphans OrphanMarker

	lockPath string
	pidPath  string
	lock     *flock.Flock

	running atomic.Bool
}

// Option configures optional daemon behavior.
type Option func(*Daemon)

// WithOrphanMarker marks stale ledger attempts at startup.
func WithOrphanMarker(o OrphanMarker) Option {
	return func(d *Daemon) { d.orphans = o }
}

// New constructs a daemon around loop.
func New(cfg *config.Config, logger *slog.Logger, loop Loop, opts ...Option) (*Daemon, error) {
	if cfg == nil || loop == nil {
		return nil, errors.New("daemon requires config and workflow loop")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		loop:     loop,
		lockPath: cfg.LockPath(),
		pidPath:  cfg.PIDPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Running reports whether Run is in progress.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Run acquires the instance lock and runs the loop until ctx is cancelled or
// SIGINT/SIGTERM arrives. SIGUSR1 requests a status summary.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if err := writePIDFile(d.pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(d.pidPath)

	d.markOrphans(ctx)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-signalCtx.Done():
				return
			case <-usr1:
				d.loop.RequestSummary()
			}
		}
	}()

	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("autocopy daemon started",
		logging.String("lock", d.lockPath),
		logging.Int(logging.FieldPID, os.Getpid()),
	)
	err = d.loop.Run(signalCtx)
	d.logger.Info("autocopy daemon stopped")
	return err
}

func (d *Daemon) markOrphans(ctx context.Context) {
	if d.orphans == nil {
		return
	}
	n, err := d.orphans.MarkOrphaned(ctx, time.Now())
	if err != nil {
		logging.WarnWithContext(d.logger, "could not mark orphaned transfer attempts", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale attempts stay listed as running"),
		)
		return
	}
	if n > 0 {
		d.logger.Info("previous daemon left transfers running; they will be redispatched",
			logging.Int64("orphaned_attempts", n),
		)
	}
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// ProcessAlive reports whether a process with pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Status describes the daemon recorded in the state directory.
type Status struct {
	Running  bool
	PID      int
	PIDPath  string
	LockPath string
}

// Inspect reads the pid file and checks whether the daemon is alive.
func Inspect(cfg *config.Config) (Status, error) {
	st := Status{PIDPath: cfg.PIDPath(), LockPath: cfg.LockPath()}
	pid, err := ReadPID(st.PIDPath)
	if errors.Is(err, ErrNotRunning) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.PID = pid
	st.Running = ProcessAlive(pid)
	return st, nil
}

// RequestSummary signals the running daemon to send a status summary and
// returns its pid.
func RequestSummary(cfg *config.Config) (int, error) {
	st, err := Inspect(cfg)
	if err != nil {
		return 0, err
	}
	if !st.Running {
		return st.PID, ErrNotRunning
	}
	if err := unix.Kill(st.PID, unix.SIGUSR1); err != nil {
		return st.PID, fmt.Errorf("signal pid %d: %w", st.PID, err)
	}
	return st.PID, nil
}
